package session

import (
	"github.com/tgassist/tgassist/internal/catalog"
)

// Kind names an outbound notice. Each kind is a key in the message catalog.
type Kind string

const (
	KindStart               Kind = "start"
	KindMenu                Kind = "menu"
	KindHelp                Kind = "help"
	KindModeGreeting        Kind = "mode_greeting"
	KindReply               Kind = "reply"
	KindInsufficientCredit  Kind = "insufficient_credit"
	KindGenericFailure      Kind = "generic_failure"
	KindConversationEnded   Kind = "conversation_ended"
	KindBalanceReport       Kind = "balance_report"
	KindTierOptions         Kind = "tier_options"
	KindTierChanged         Kind = "tier_changed"
	KindRecharged           Kind = "recharged"
	KindPaymentLink         Kind = "payment_link"
	KindRechargeUnavailable Kind = "recharge_unavailable"
)

// Notice is one message for the user. Only the fields relevant to Kind are set.
type Notice struct {
	Kind Kind

	Mode catalog.Mode
	Tier catalog.Tier

	Balance  int64
	Required int64
	Credits  int64

	// Lifetime usage for balance reports
	Turns        int64
	CreditsSpent int64

	NewUser       bool
	SessionActive bool

	Text string // assistant reply
	URL  string // payment link
}

// Result is what every engine operation returns: the notices to deliver, in
// order, plus the typed failure if the operation did not succeed.
type Result struct {
	UserID   int64
	Language string
	Notices  []Notice
	Err      error
}

func (r *Result) add(n Notice) {
	r.Notices = append(r.Notices, n)
}

// Kinds lists notice kinds in order, handy for assertions and logging
func (r Result) Kinds() []Kind {
	out := make([]Kind, 0, len(r.Notices))
	for _, n := range r.Notices {
		out = append(out, n.Kind)
	}
	return out
}

// Merge appends other's notices after r's and keeps the first error
func (r Result) Merge(other Result) Result {
	notices := make([]Notice, 0, len(r.Notices)+len(other.Notices))
	notices = append(notices, r.Notices...)
	r.Notices = append(notices, other.Notices...)
	if r.Err == nil {
		r.Err = other.Err
	}
	if r.Language == "" {
		r.Language = other.Language
	}
	return r
}
