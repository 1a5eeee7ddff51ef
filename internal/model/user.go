package model

import "time"

type User struct {
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	DisplayName  string
}
