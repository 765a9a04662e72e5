// Package dispatch turns inbound chat events into session engine operations.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/logger"
	"github.com/tgassist/tgassist/internal/session"
)

type EventKind int

const (
	EventCommand EventKind = iota
	EventText
	EventSelection
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventText:
		return "text"
	case EventSelection:
		return "selection"
	default:
		return "unknown"
	}
}

// Event is one inbound user action. Name is set for commands, Body for
// text and Option for selections.
type Event struct {
	Kind   EventKind
	User   session.User
	Name   string
	Body   string
	Option string
}

func Command(u session.User, name string) Event {
	return Event{Kind: EventCommand, User: u, Name: name}
}

func Text(u session.User, body string) Event {
	return Event{Kind: EventText, User: u, Body: body}
}

func Selection(u session.User, option string) Event {
	return Event{Kind: EventSelection, User: u, Option: option}
}

// Commands
const (
	CmdStart    = "start"
	CmdRestart  = "restart"
	CmdMenu     = "menu"
	CmdHelp     = "help"
	CmdStop     = "stop"
	CmdSettings = "settings"
	CmdRecharge = "recharge"
	CmdBalance  = "balance"
)

// Selection options. Mode and tier options carry the id after the prefix.
const (
	OptModePrefix = "mode:"
	OptTierPrefix = "tier:"
	OptRecharge   = "recharge"
	OptBalance    = "balance"
	OptMenu       = "menu"
	OptSettings   = "settings"
)

// Engine is the part of the session engine the dispatcher drives
type Engine interface {
	Catalog() *catalog.Catalog
	Start(ctx context.Context, u session.User) session.Result
	Menu(ctx context.Context, u session.User) session.Result
	Help(ctx context.Context, u session.User) session.Result
	TierOptions(ctx context.Context, u session.User) session.Result
	EnterMode(ctx context.Context, u session.User, modeID string) session.Result
	Turn(ctx context.Context, u session.User, text string) session.Result
	End(ctx context.Context, u session.User) session.Result
	SetTier(ctx context.Context, u session.User, tierID string) session.Result
	Balance(ctx context.Context, u session.User) session.Result
	Recharge(ctx context.Context, u session.User, reference string) session.Result
}

// PaymentLinker creates a checkout link that pays for one recharge
type PaymentLinker interface {
	PaymentLink(ctx context.Context, userID int64) (string, error)
}

type Options struct {
	// AllowFreeRecharge credits recharges directly when no payment provider is set
	AllowFreeRecharge bool
	RechargeCredits   int64
}

type Dispatcher struct {
	engine   Engine
	payments PaymentLinker
	opts     Options
}

// New builds a dispatcher. payments may be nil.
func New(engine Engine, payments PaymentLinker, opts Options) *Dispatcher {
	return &Dispatcher{engine: engine, payments: payments, opts: opts}
}

// CommandNames lists every command the dispatcher understands, mode commands included
func (d *Dispatcher) CommandNames() []string {
	names := []string{CmdStart, CmdMenu, CmdHelp, CmdStop, CmdSettings, CmdBalance, CmdRecharge}
	for _, m := range d.engine.Catalog().Modes() {
		names = append(names, m.Command)
	}
	return names
}

// Dispatch routes one event and returns everything to send back
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) session.Result {
	switch ev.Kind {
	case EventCommand:
		return d.command(ctx, ev.User, normalizeCommand(ev.Name))
	case EventText:
		// Command-prefixed text (a caption, a client without entities) still interrupts
		if name, ok := slashCommand(ev.Body); ok {
			return d.command(ctx, ev.User, name)
		}
		return d.engine.Turn(ctx, ev.User, ev.Body)
	case EventSelection:
		return d.selection(ctx, ev.User, ev.Option)
	default:
		return session.Result{
			UserID:  ev.User.ID,
			Notices: []session.Notice{{Kind: session.KindGenericFailure}},
			Err:     fmt.Errorf("%w: event kind %d", session.ErrUnknownOption, ev.Kind),
		}
	}
}

// slashCommand extracts the command name from text that starts with "/"
func slashCommand(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	return normalizeCommand(fields[0]), true
}

func normalizeCommand(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// command ends any armed conversation first, then evaluates the command fresh
func (d *Dispatcher) command(ctx context.Context, u session.User, name string) session.Result {
	ended := d.engine.End(ctx, u)

	var next session.Result
	switch name {
	case CmdStart, CmdRestart:
		next = d.engine.Start(ctx, u)
	case CmdMenu, CmdStop:
		next = d.engine.Menu(ctx, u)
	case CmdHelp:
		next = d.engine.Help(ctx, u)
	case CmdSettings:
		next = d.engine.TierOptions(ctx, u)
	case CmdBalance:
		next = d.engine.Balance(ctx, u)
	case CmdRecharge:
		next = d.recharge(ctx, u)
	default:
		if mode, ok := d.engine.Catalog().ModeByCommand(name); ok {
			next = d.engine.EnterMode(ctx, u, mode.ID)
		} else {
			logger.Debug("Unknown command, showing menu", map[string]interface{}{
				"user_id": u.ID,
				"command": name,
			})
			next = d.engine.Menu(ctx, u)
		}
	}
	return ended.Merge(next)
}

func (d *Dispatcher) selection(ctx context.Context, u session.User, option string) session.Result {
	switch {
	case strings.HasPrefix(option, OptModePrefix):
		return d.engine.EnterMode(ctx, u, strings.TrimPrefix(option, OptModePrefix))
	case strings.HasPrefix(option, OptTierPrefix):
		return d.engine.SetTier(ctx, u, strings.TrimPrefix(option, OptTierPrefix))
	case option == OptRecharge:
		return d.recharge(ctx, u)
	case option == OptBalance:
		return d.engine.Balance(ctx, u)
	case option == OptMenu:
		return d.engine.Menu(ctx, u)
	case option == OptSettings:
		return d.engine.TierOptions(ctx, u)
	default:
		return session.Result{
			UserID:  u.ID,
			Notices: []session.Notice{{Kind: session.KindGenericFailure}},
			Err:     fmt.Errorf("%w: selection %q", session.ErrUnknownOption, option),
		}
	}
}

// recharge sends a payment link when payments are configured, otherwise
// credits directly if free recharges are allowed
func (d *Dispatcher) recharge(ctx context.Context, u session.User) session.Result {
	if d.payments != nil {
		url, err := d.payments.PaymentLink(ctx, u.ID)
		if err != nil {
			logger.Error("Failed to create payment link", map[string]interface{}{
				"user_id": u.ID,
				"error":   err.Error(),
			})
			return session.Result{
				UserID:  u.ID,
				Notices: []session.Notice{{Kind: session.KindGenericFailure}},
				Err:     fmt.Errorf("payment link: %w", err),
			}
		}
		return session.Result{
			UserID:  u.ID,
			Notices: []session.Notice{{Kind: session.KindPaymentLink, URL: url, Credits: d.opts.RechargeCredits}},
		}
	}

	if d.opts.AllowFreeRecharge {
		return d.engine.Recharge(ctx, u, "")
	}

	return session.Result{
		UserID:  u.ID,
		Notices: []session.Notice{{Kind: session.KindRechargeUnavailable}},
	}
}

// ApplyPayment credits a paid recharge. The payment reference makes
// redelivered webhooks a no-op.
func (d *Dispatcher) ApplyPayment(ctx context.Context, userID int64, reference string) session.Result {
	return d.engine.Recharge(ctx, session.User{ID: userID}, reference)
}
