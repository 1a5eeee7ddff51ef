package model

import "time"

type Garden struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Location   string    `db:"location" json:"location"`
	OwnerEmail string    `db:"owner_email" json:"ownerEmail"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// GardenSummary is a garden as seen by one of its members.
type GardenSummary struct {
	Garden
	Role        MemberRole `db:"role" json:"role"`
	MemberCount int        `db:"member_count" json:"memberCount"`
}

type GardenMember struct {
	GardenID string     `db:"garden_id" json:"gardenId"`
	Email    string     `db:"email" json:"email"`
	Role     MemberRole `db:"role" json:"role"`
	JoinedAt time.Time  `db:"joined_at" json:"joinedAt"`
}

type CreateGardenParams struct {
	Name       string
	Location   string
	OwnerEmail string
}
