package observability

import (
	"log/slog"
	"strings"

	"dragonvault/core/events"
	"dragonvault/core/types"
)

// Recorder bridges engine events into structured logs and prometheus
// counters. It satisfies the emitter interface the vault and strategy
// engines publish through.
type Recorder struct {
	logger  *slog.Logger
	metrics *vaultMetrics
}

// NewRecorder builds a recorder around the given logger. A nil logger falls
// back to the process default.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, metrics: VaultMetrics()}
}

// Emit logs the event and bumps the matching counters.
func (r *Recorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	eventType := evt.EventType()
	r.metrics.RecordEvent(eventType)

	ledger, op := splitEventType(eventType)
	switch op {
	case "deposit":
		r.metrics.RecordDeposit(ledger)
	case "withdraw":
		r.metrics.RecordWithdrawal(ledger)
	case "reported":
		r.metrics.RecordReport(ledger)
	case "debt_updated":
		r.metrics.RecordDebtUpdate()
	}

	args := []any{slog.String("event", eventType)}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	r.logger.Info("ledger event", args...)
}

// splitEventType decomposes "vault.strategy.reported" into its ledger prefix
// and final operation.
func splitEventType(eventType string) (string, string) {
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 {
		return eventType, eventType
	}
	return parts[0], parts[len(parts)-1]
}
