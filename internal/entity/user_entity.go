package entity

import "time"

const (
	RoleAdmin = "admin"
)

// User is owned by the authentication service; this module only reads it.
type User struct {
	Id          string    `bson:"_id" json:"id"`
	Username    string    `bson:"username" json:"username"`
	Email       string    `bson:"email" json:"email"`
	DisplayName string    `bson:"displayName" json:"displayName"`
	Role        string    `bson:"role" json:"role"`
	Department  string    `bson:"department" json:"department"`
	JobTitle    string    `bson:"jobTitle" json:"jobTitle"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

type UserIndexFilter struct {
	Ids []string `bson:"ids"`
}

type UserSummary struct {
	Id          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	Department  string `json:"department"`
}

func (u User) Summary() UserSummary {
	return UserSummary{
		Id:          u.Id,
		DisplayName: u.DisplayName,
		Username:    u.Username,
		Role:        u.Role,
		Department:  u.Department,
	}
}
