package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Export formats.
const (
	FormatStructured = "structured"
	FormatHuman      = "human"
)

// exportSnapshot is the structured export envelope.
type exportSnapshot struct {
	POAID       string    `json:"poa_id"`
	GeneratedAt time.Time `json:"generated_at"`
	EntryCount  int       `json:"entry_count"`
	AllVerified bool      `json:"all_signatures_verified"`
	Entries     []*Entry  `json:"entries"`
}

// Export produces a point-in-time snapshot of a POA's ledger, either as
// structured JSON or as a human-readable report suitable for handing to an
// institution or authority.
func (l *Ledger) Export(ctx context.Context, poaID, format string) ([]byte, error) {
	entries, err := l.store.ListEntries(ctx, Filter{POAID: poaID})
	if err != nil {
		return nil, fmt.Errorf("%w: export: %v", core.ErrStorageFailure, err)
	}

	allVerified := true
	for _, e := range entries {
		ok, err := l.signer.VerifyCanonical(viewOf(e), e.Signature)
		if err != nil || !ok {
			allVerified = false
		}
	}

	switch format {
	case FormatStructured:
		snap := exportSnapshot{
			POAID:       poaID,
			GeneratedAt: l.clock().UTC(),
			EntryCount:  len(entries),
			AllVerified: allVerified,
			Entries:     entries,
		}
		return json.MarshalIndent(snap, "", "  ")

	case FormatHuman:
		return l.renderHuman(poaID, entries, allVerified), nil

	default:
		return nil, fmt.Errorf("%w: unknown export format %q", core.ErrInvalidArgument, format)
	}
}

func (l *Ledger) renderHuman(poaID string, entries []*Entry, allVerified bool) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "FIDUCIARY LEDGER REPORT\n")
	fmt.Fprintf(&b, "POA:          %s\n", poaID)
	fmt.Fprintf(&b, "Generated:    %s\n", l.clock().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Entries:      %d\n", len(entries))
	fmt.Fprintf(&b, "Integrity:    %s\n", integrityLabel(allVerified))
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 72))

	for _, e := range entries {
		fmt.Fprintf(&b, "#%d  %s  %s\n", e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.ActionType)
		fmt.Fprintf(&b, "    Decision:  %s\n", e.Decision)
		if e.ServiceName != "" {
			fmt.Fprintf(&b, "    Service:   %s\n", e.ServiceName)
		}
		if e.Amount != 0 {
			fmt.Fprintf(&b, "    Amount:    $%.2f\n", e.Amount)
		}
		fmt.Fprintf(&b, "    Reasoning: %s\n", e.Reasoning)
		if e.AdvocateNotified {
			fmt.Fprintf(&b, "    Advocate notified: yes\n")
		}
		fmt.Fprintf(&b, "    Signature: %s...\n", truncate(e.Signature, 24))
	}

	return []byte(b.String())
}

func integrityLabel(ok bool) string {
	if ok {
		return "ALL SIGNATURES VERIFIED"
	}
	return "SIGNATURE MISMATCH DETECTED"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
