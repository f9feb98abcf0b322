package convo

import (
	"fmt"
	"strings"

	"matchbot/internal/matching"
	"matchbot/internal/repo"
)

// FormatProfile renders a profile card for chat.
func FormatProfile(p *repo.Profile) string {
	var b strings.Builder
	name := strings.TrimSpace(p.DisplayName())
	if name == "" {
		name = "Not set"
	}
	fmt.Fprintf(&b, "👤 %s\n", name)
	if p.Age != nil {
		fmt.Fprintf(&b, "🎂 %d\n", *p.Age)
	}
	if city := strings.TrimSpace(p.City); city != "" {
		fmt.Fprintf(&b, "📍 %s\n", city)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Description)
	}
	if p.Verified {
		b.WriteString("\n✅ Verified")
	}
	if p.Instagram != "" {
		fmt.Fprintf(&b, "\n📷 Instagram: @%s", strings.TrimPrefix(p.Instagram, "@"))
	}
	if p.VK != "" {
		fmt.Fprintf(&b, "\n🔵 VK: %s", p.VK)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStats renders usage counters.
func FormatStats(st *matching.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Your stats\n")
	if st.Unlimited {
		b.WriteString("Likes today: unlimited (subscription)\n")
	} else {
		used := st.LikesLimit - st.LikesRemaining
		fmt.Fprintf(&b, "Likes today: %d/%d\n", used, st.LikesLimit)
	}
	if st.Profile.ReferralBonusLikes > 0 {
		fmt.Fprintf(&b, "Bonus likes from referrals: %d\n", st.Profile.ReferralBonusLikes)
	}
	fmt.Fprintf(&b, "Dislikes left today: %d\n", st.DislikesRemaining)
	fmt.Fprintf(&b, "Likes given: %d\nLikes received: %d\n", st.Profile.TotalLikes, st.Profile.LikesReceived)
	fmt.Fprintf(&b, "Super-likes: %d\n", st.Profile.SuperLikeCredits)
	if st.BoostedUntil != nil {
		fmt.Fprintf(&b, "🚀 Boosted until %s UTC\n", st.BoostedUntil.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Referral code: %s", st.Profile.ReferralCode)
	return b.String()
}

func formatNotification(kind matching.EventKind, n matching.Notification) string {
	from := "Someone"
	card := ""
	if n.From != nil {
		if name := strings.TrimSpace(n.From.DisplayName()); name != "" {
			from = name
		}
		card = FormatProfile(n.From)
	}

	switch kind {
	case matching.EventMutualMatch:
		msg := fmt.Sprintf("💞 It's a match! You and %s liked each other.", from)
		if n.From != nil {
			msg += "\n\n" + card + "\n\nSay hi: wa.me/" + phoneFromJID(n.From.ExternalID)
		}
		return msg
	case matching.EventSuperLike:
		msg := fmt.Sprintf("⭐ %s sent you a super-like!", from)
		if n.Message != "" {
			msg += "\n💬 " + n.Message
		}
		if n.MediaRef != "" {
			msg += "\n📎 A photo was attached."
		}
		if card != "" {
			msg += "\n\n" + card
		}
		return msg + "\n\nReply \"next\" to browse and like them back."
	default:
		msg := fmt.Sprintf("❤️ %s liked your profile!", from)
		if card != "" {
			msg += "\n\n" + card
		}
		return msg + "\n\nReply \"next\" to browse and like them back."
	}
}

func phoneFromJID(jid string) string {
	if i := strings.IndexAny(jid, "@:"); i >= 0 {
		return jid[:i]
	}
	return jid
}
