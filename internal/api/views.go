package api

import (
	"encoding/json"
	"net/http"
	"time"

	"matchbot/internal/repo"
)

type profileView struct {
	ID                    int64      `json:"id"`
	ExternalID            string     `json:"external_id"`
	Name                  string     `json:"name"`
	Age                   *int       `json:"age,omitempty"`
	Gender                string     `json:"gender,omitempty"`
	Interest              string     `json:"interest,omitempty"`
	City                  string     `json:"city,omitempty"`
	Description           string     `json:"description,omitempty"`
	Instagram             string     `json:"instagram,omitempty"`
	VK                    string     `json:"vk,omitempty"`
	Active                bool       `json:"active"`
	Banned                bool       `json:"banned"`
	BanReason             string     `json:"ban_reason,omitempty"`
	Hidden                bool       `json:"hidden"`
	Verified              bool       `json:"verified"`
	SubscriptionStatus    string     `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	ReferralCode          string     `json:"referral_code"`
	CreatedAt             time.Time  `json:"created_at"`
}

func toProfileView(p *repo.Profile) profileView {
	return profileView{
		ID:                    p.ID,
		ExternalID:            p.ExternalID,
		Name:                  p.DisplayName(),
		Age:                   p.Age,
		Gender:                string(p.Gender),
		Interest:              string(p.Interest),
		City:                  p.City,
		Description:           p.Description,
		Instagram:             p.Instagram,
		VK:                    p.VK,
		Active:                p.Active,
		Banned:                p.Banned,
		BanReason:             p.BanReason,
		Hidden:                p.Hidden,
		Verified:              p.Verified,
		SubscriptionStatus:    string(p.SubscriptionStatus),
		SubscriptionExpiresAt: p.SubscriptionExpiresAt,
		ReferralCode:          p.ReferralCode,
		CreatedAt:             p.CreatedAt,
	}
}

type interactionView struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	TargetID  int64     `json:"target_id"`
	Kind      string    `json:"kind"`
	Mutual    bool      `json:"mutual"`
	CreatedAt time.Time `json:"created_at"`
}

func toInteractionView(in *repo.Interaction) interactionView {
	return interactionView{
		ID:        in.ID,
		SourceID:  in.SourceID,
		TargetID:  in.TargetID,
		Kind:      string(in.Kind),
		Mutual:    in.Mutual,
		CreatedAt: in.CreatedAt,
	}
}

type boostView struct {
	ProfileID int64     `json:"profile_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statsView struct {
	ProfileID         int64      `json:"profile_id"`
	LikesLimit        int        `json:"likes_limit"`
	LikesRemaining    int        `json:"likes_remaining"`
	DislikesRemaining int        `json:"dislikes_remaining"`
	Unlimited         bool       `json:"unlimited"`
	BoostedUntil      *time.Time `json:"boosted_until,omitempty"`
	TotalLikes        int        `json:"total_likes"`
	LikesReceived     int        `json:"likes_received"`
	SuperLikeCredits  int        `json:"super_like_credits"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, errorResponse{Error: message})
}
