package runtime

import (
	"github.com/coatyio/coaty-go/logging"
	"github.com/coatyio/coaty-go/model"
)

// Controller is an application component that publishes and/or observes
// communication events and is lifecycle-managed by the container.
//
// The container invokes the callbacks in this order: OnInit when the
// controller is instantiated, OnContainerResolved once all controllers
// exist, OnCommunicationManagerStarting whenever the manager (re)starts
// — the place to register observers — and OnCommunicationManagerStopping
// for cleanup. OnDispose runs once, on container shutdown.
type Controller interface {
	// Name returns the controller's registration name.
	Name() string

	// Identity returns the controller's component, its sender identity
	// on the wire.
	Identity() *model.Component

	// ShouldAdvertiseIdentity reports whether the container advertises
	// this controller's component when the manager goes Online.
	ShouldAdvertiseIdentity() bool

	OnInit(container *Container)
	OnContainerResolved(container *Container)
	OnCommunicationManagerStarting()
	OnCommunicationManagerStopping()
	OnDispose()
}

// ControllerBase provides the default Controller implementation:
// an auto-created identity, identity advertisement enabled, and no-op
// lifecycle callbacks. Embed it and override what you need.
type ControllerBase struct {
	name      string
	identity  *model.Component
	advertise bool
	container *Container
}

// NewControllerBase creates the embeddable base for a named controller.
func NewControllerBase(name string) ControllerBase {
	return ControllerBase{
		name:      name,
		identity:  model.NewComponent(name),
		advertise: true,
	}
}

// Name returns the controller's registration name.
func (b *ControllerBase) Name() string {
	return b.name
}

// Identity returns the controller's component.
func (b *ControllerBase) Identity() *model.Component {
	return b.identity
}

// ShouldAdvertiseIdentity reports whether the component is advertised on
// Online.
func (b *ControllerBase) ShouldAdvertiseIdentity() bool {
	return b.advertise
}

// SetShouldAdvertiseIdentity toggles identity advertisement. Call before
// the container resolves.
func (b *ControllerBase) SetShouldAdvertiseIdentity(advertise bool) {
	b.advertise = advertise
}

// Container returns the resolved container; nil before OnInit.
func (b *ControllerBase) Container() *Container {
	return b.container
}

// Logger returns the container's logger scoped to this controller.
func (b *ControllerBase) Logger() *logging.Logger {
	if b.container == nil {
		return logging.Nop()
	}
	return b.container.Logger().ForController(b.name)
}

// OnInit records the container reference. Overriders must call through.
func (b *ControllerBase) OnInit(container *Container) {
	b.container = container
}

func (b *ControllerBase) OnContainerResolved(*Container)  {}
func (b *ControllerBase) OnCommunicationManagerStarting() {}
func (b *ControllerBase) OnCommunicationManagerStopping() {}
func (b *ControllerBase) OnDispose()                      {}
