package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/robin/internal/application"
)

// ServiceFactory assists tests with constructing application services using
// a deterministic clock and a shared notification recorder.
type ServiceFactory struct {
	Clock    *Clock
	Recorder *Recorder
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.Recorder == nil {
		factory.Recorder = NewRecorder()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithRecorder overrides the recorder used as the default notifier.
func WithRecorder(recorder *Recorder) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Recorder = recorder
	}
}

// PassServiceDeps captures dependencies for constructing the pass services.
// A nil Notifier falls back to the factory's Recorder.
type PassServiceDeps struct {
	Rooms    application.RoomRepository
	Notifier application.Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

func (f *ServiceFactory) resolve(deps PassServiceDeps) PassServiceDeps {
	if deps.Notifier == nil {
		deps.Notifier = f.Recorder
	}
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	return deps
}

// NewPromptService builds a prompt service using the supplied dependencies.
func (f *ServiceFactory) NewPromptService(deps PassServiceDeps) *application.PromptService {
	deps = f.resolve(deps)
	return application.NewPromptServiceWithLogger(deps.Rooms, deps.Notifier, deps.Now, deps.Logger)
}

// NewReapService builds a reap service using the supplied dependencies.
func (f *ServiceFactory) NewReapService(deps PassServiceDeps) *application.ReapService {
	deps = f.resolve(deps)
	return application.NewReapServiceWithLogger(deps.Rooms, deps.Notifier, deps.Now, deps.Logger)
}
