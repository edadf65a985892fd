package model

import "time"

// MembershipStatus represents the lifecycle state of a membership.
type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusPaused    MembershipStatus = "paused"
	MembershipStatusCancelled MembershipStatus = "cancelled"
)

// MembershipRole distinguishes athletes from coaching staff on a box roster.
type MembershipRole string

const (
	RoleAthlete MembershipRole = "athlete"
	RoleCoach   MembershipRole = "coach"
	RoleOwner   MembershipRole = "owner"
)

// Checkin is one self-reported wellness check-in. Scales run 1-10.
type Checkin struct {
	Energy      int       `json:"energy"`
	Readiness   int       `json:"readiness"`
	Stress      int       `json:"stress"`
	Motivation  int       `json:"motivation"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// Membership is an athlete's enrollment in one box. The check-in streak is a
// running counter maintained by the check-in flow, not recomputed here.
type Membership struct {
	ID            string           `json:"id"`
	BoxID         string           `json:"box_id"`
	Status        MembershipStatus `json:"status"`
	Role          MembershipRole   `json:"role"`
	CheckinStreak int              `json:"checkin_streak"`
	JoinedAt      time.Time        `json:"joined_at"`
}
