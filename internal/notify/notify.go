// Package notify delivers replies, typing state and failures to whatever
// transport is listening for a user.
package notify

import (
	"context"
	"errors"

	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

const (
	TextTryAgain = "Something went wrong on our side. Please try again in a moment."
	TextSlowDown = "You're sending requests too quickly. Please slow down and try again in a minute."
	TextApology  = "Sorry, I couldn't process your messages. Please try again."
)

// UserText is the message shown to a user for a failed submission or run.
func UserText(err error) string {
	switch {
	case utils.IsCode(err, utils.CodeRateLimited):
		return TextSlowDown
	case utils.IsCode(err, utils.CodeUnavailable), utils.IsCode(err, utils.CodeTimeout):
		return TextTryAgain
	default:
		return TextApology
	}
}

// Channel is anything that can receive every kind of notification.
type Channel interface {
	services.ResponseSink
	services.PresenceSignal
	services.FailureNotifier
}

// Multi fans out to several channels. Deliver and SetIndicator return the
// joined errors of every channel that failed.
type Multi []Channel

func (m Multi) Deliver(ctx context.Context, userID, result string) error {
	var errs []error
	for _, c := range m {
		if err := c.Deliver(ctx, userID, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SetIndicator(ctx context.Context, userID string, active bool) error {
	var errs []error
	for _, c := range m {
		if err := c.SetIndicator(ctx, userID, active); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyFailure(ctx context.Context, userID string, err error) {
	for _, c := range m {
		c.NotifyFailure(ctx, userID, err)
	}
}
