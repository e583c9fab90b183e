package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyDesk/internal/models"
	"github.com/BTreeMap/ReplyDesk/internal/store"
)

// DefaultDigestWindow is the lookback covered by one digest email.
const DefaultDigestWindow = 24 * time.Hour

// Digest summarizes recent handoff exchanges into one owner email, the
// daily companion to the per-exchange alerts. A window with no handoffs
// sends nothing.
type Digest struct {
	store    store.Store
	notifier Notifier
	window   time.Duration
	now      func() time.Time
}

// NewDigest creates a Digest over the exchange log.
func NewDigest(st store.Store, notifier Notifier) *Digest {
	return &Digest{
		store:    st,
		notifier: notifier,
		window:   DefaultDigestWindow,
		now:      time.Now,
	}
}

// Send emails a summary of the handoff exchanges inside the window.
func (d *Digest) Send(ctx context.Context) error {
	cutoff := d.now().UTC().Add(-d.window)

	recent, err := d.store.RecentExchanges(models.MaxRecentExchangesLimit)
	if err != nil {
		return fmt.Errorf("failed to load exchanges for digest: %w", err)
	}

	var handoffs []models.Exchange
	for _, ex := range recent {
		if ex.NeedsHandoff && !ex.Timestamp.Before(cutoff) {
			handoffs = append(handoffs, ex)
		}
	}
	if len(handoffs) == 0 {
		slog.Debug("Digest.Send: no handoffs in window, skipping")
		return nil
	}

	subject := fmt.Sprintf("Handoff digest: %d open conversation(s)", len(handoffs))
	if err := d.notifier.Notify(ctx, subject, d.renderBody(handoffs)); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}

	slog.Info("Digest.Send: digest sent", "handoffs", len(handoffs))
	return nil
}

// renderBody builds the plain-text digest: counts per intent, then one
// line per exchange, oldest first so the owner reads in order.
func (d *Digest) renderBody(handoffs []models.Exchange) string {
	counts := map[models.Tag]int{}
	for _, ex := range handoffs {
		counts[ex.PrimaryTag()]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d exchange(s) in the last %s still need you:\n\n", len(handoffs), d.window)
	for _, tag := range models.AllTags() {
		if n := counts[tag]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", tag, n)
		}
	}
	b.WriteString("\n")

	for i := len(handoffs) - 1; i >= 0; i-- {
		ex := handoffs[i]
		fmt.Fprintf(&b, "%s %s [%s] %s\n  > %s\n",
			ex.Timestamp.Format("Jan 2 15:04"), ex.Sender, ex.PrimaryTag(), snippet(ex.InboundText), snippet(ex.ReplyText))
	}
	return b.String()
}

// snippet bounds one message line in the digest.
func snippet(text string) string {
	const max = 80
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}
