package pushsubscription

import "time"

// Subscription is one browser registered for web push on behalf of a user.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	UserID    string    `yaml:"user_id" json:"user_id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}
