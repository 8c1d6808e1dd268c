package profile

import (
	"time"

	"github.com/google/uuid"
)

// ServiceOption is an interface which a profile service implements to allow using configuration options
type ServiceOption interface {
	SetConnectTimeout(time.Duration) error
	SetUnlockTimeout(time.Duration) error
	SetVoiceRecognitionTimeout(time.Duration) error
	SetJoinTimeout(time.Duration) error
	SetMaxConnections(int) error
	SetRequiredUUID(uuid.UUID) error
	SetGrouping(bool) error
	SetRelatedProfiles([]ProfileID) error
	SetAdapter(Adapter) error
	SetRedirector(func(Addr) bool) error
	SetAudioGate(interface{}) error
}

// An Option is a configuration function, which configures the service.
type Option func(ServiceOption) error

// OptConnectTimeout bounds the Connecting and Disconnecting states.
func OptConnectTimeout(d time.Duration) Option {
	return func(opt ServiceOption) error {
		return opt.SetConnectTimeout(d)
	}
}

// OptUnlockTimeout bounds the wait for the peer to confirm an unlock.
func OptUnlockTimeout(d time.Duration) Option {
	return func(opt ServiceOption) error {
		return opt.SetUnlockTimeout(d)
	}
}

// OptVoiceRecognitionTimeout bounds the wait for voice recognition to start.
func OptVoiceRecognitionTimeout(d time.Duration) Option {
	return func(opt ServiceOption) error {
		return opt.SetVoiceRecognitionTimeout(d)
	}
}

// OptJoinTimeout bounds the worker shutdown.
func OptJoinTimeout(d time.Duration) Option {
	return func(opt ServiceOption) error {
		return opt.SetJoinTimeout(d)
	}
}

// OptMaxConnections sets how many devices may be connecting or connected.
func OptMaxConnections(n int) Option {
	return func(opt ServiceOption) error {
		return opt.SetMaxConnections(n)
	}
}

// OptRequiredUUID makes Connect refuse devices not exposing u.
func OptRequiredUUID(u uuid.UUID) Option {
	return func(opt ServiceOption) error {
		return opt.SetRequiredUUID(u)
	}
}

// OptGrouping enables coordinated set handling.
func OptGrouping(enable bool) Option {
	return func(opt ServiceOption) error {
		return opt.SetGrouping(enable)
	}
}

// OptRelatedProfiles lists the profiles whose forbidden policy is mirrored
// across a coordinated set.
func OptRelatedProfiles(ids ...ProfileID) Option {
	return func(opt ServiceOption) error {
		return opt.SetRelatedProfiles(ids)
	}
}

// OptAdapter sets the adapter consulted by admission checks.
func OptAdapter(a Adapter) Option {
	return func(opt ServiceOption) error {
		return opt.SetAdapter(a)
	}
}

// OptRedirector sets a check telling whether a device belongs to another
// profile.
func OptRedirector(fn func(Addr) bool) Option {
	return func(opt ServiceOption) error {
		return opt.SetRedirector(fn)
	}
}

// OptAudioGate sets the audio gate voice recognition waits on.
func OptAudioGate(gate interface{}) Option {
	return func(opt ServiceOption) error {
		return opt.SetAudioGate(gate)
	}
}

// OptConfig applies the service settings of c.
func OptConfig(c Config) Option {
	return func(opt ServiceOption) error {
		related, err := c.RelatedProfileIDs()
		if err != nil {
			return err
		}
		u, ok, err := c.RequiredServiceUUID()
		if err != nil {
			return err
		}
		opts := []Option{
			OptConnectTimeout(c.ConnectTimeout),
			OptUnlockTimeout(c.UnlockTimeout),
			OptVoiceRecognitionTimeout(c.VoiceRecognitionTimeout),
			OptJoinTimeout(c.JoinTimeout),
			OptMaxConnections(c.MaxConnections),
			OptGrouping(c.Grouping),
			OptRelatedProfiles(related...),
		}
		if ok {
			opts = append(opts, OptRequiredUUID(u))
		}
		for _, o := range opts {
			if err := o(opt); err != nil {
				return err
			}
		}
		return nil
	}
}
