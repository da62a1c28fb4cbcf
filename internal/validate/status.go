package validate

import (
	"github.com/rotisserie/eris"

	"github.com/ppiankov/redline/internal/model"
)

// Trigger names what caused a validation to run
type Trigger string

const (
	TriggerInitial      Trigger = "initial"      // first validation, before insert
	TriggerRevalidation Trigger = "revalidation" // explicit sweep, e.g. after a rule version bump
)

var (
	// ErrImplicitTransition is returned for a status change the trigger does not allow
	ErrImplicitTransition = eris.New("implicit validation status transition")

	// ErrInvalidStatus is returned for a status outside the known set
	ErrInvalidStatus = eris.New("invalid validation status")
)

// NextStatus applies verdict to a packet currently in status current.
// pending moves only on the initial validation; valid, flagged and rejected
// move among themselves only on an explicit revalidation.
func NextStatus(current, verdict model.ValidationStatus, trigger Trigger) (model.ValidationStatus, error) {
	if !verdict.Final() {
		return current, eris.Wrapf(ErrInvalidStatus, "verdict %q", verdict)
	}

	switch {
	case current == "" || current == model.StatusPending:
		if trigger != TriggerInitial {
			return current, eris.Wrapf(ErrImplicitTransition, "%s -> %s on %s", model.StatusPending, verdict, trigger)
		}
	case current.Final():
		if trigger != TriggerRevalidation {
			return current, eris.Wrapf(ErrImplicitTransition, "%s -> %s on %s", current, verdict, trigger)
		}
	default:
		return current, eris.Wrapf(ErrInvalidStatus, "current %q", current)
	}

	return verdict, nil
}
