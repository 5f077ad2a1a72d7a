package runtime

import (
	"sync"

	"github.com/coatyio/coaty-go/com"
	"github.com/coatyio/coaty-go/logging"
	"github.com/coatyio/coaty-go/model"
)

// Container resolves controllers against one communication manager and
// drives their lifecycle callbacks.
type Container struct {
	cfg         *Config
	log         *logging.Logger
	manager     *com.Manager
	controllers []Controller

	stateSub  *com.StateSubscription
	watchDone chan struct{}
	shutdown  sync.Once
}

// Resolve builds the communication manager from the configuration,
// initialises the controllers in registration order, and — when
// ShouldAutoStart is set — starts the manager.
//
// Parameters:
//   - cfg: Validated agent configuration
//   - log: Logger; nil disables logging
//   - controllers: Controllers in registration order
//
// Returns:
//   - *Container: The resolved container
//   - error: Configuration or manager construction failure
func Resolve(cfg *Config, log *logging.Logger, controllers ...Controller) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}

	opts := com.DefaultOptions(cfg.BrokerURL)
	opts.IdentityName = cfg.Identity.Name
	opts.Username = cfg.Auth.Username
	opts.Password = cfg.Auth.Password
	opts.UseReadableTopics = cfg.UseReadableTopics
	opts.MaxDeferredPublishes = cfg.MaxDeferredPublishes
	if cfg.ShouldAdvertiseIdentity != nil {
		opts.ShouldAdvertiseIdentity = *cfg.ShouldAdvertiseIdentity
	}
	if cfg.ShouldAdvertiseDevice != nil {
		opts.ShouldAdvertiseDevice = *cfg.ShouldAdvertiseDevice
	}
	if cfg.AssociatedUser != nil {
		opts.AssociatedUser = resolveUser(cfg.AssociatedUser)
	}
	if cfg.AssociatedDevice != nil {
		opts.AssociatedDevice = resolveDevice(cfg.AssociatedDevice)
	}

	manager, err := com.NewManager(opts, log)
	if err != nil {
		return nil, err
	}

	c := &Container{
		cfg:         cfg,
		log:         log,
		manager:     manager,
		controllers: controllers,
		watchDone:   make(chan struct{}),
	}

	for _, ctrl := range controllers {
		ctrl.OnInit(c)
	}
	for _, ctrl := range controllers {
		ctrl.OnContainerResolved(c)
	}

	c.stateSub = manager.ObserveOperatingState()
	go c.watchOperatingState()

	if cfg.ShouldAutoStart {
		if err := manager.Start(); err != nil {
			c.log.Warn("auto-start failed", "error", err)
		}
	}
	return c, nil
}

// Manager returns the container's communication manager.
func (c *Container) Manager() *com.Manager {
	return c.manager
}

// Logger returns the container's logger.
func (c *Container) Logger() *logging.Logger {
	return c.log
}

// Identity returns the communication manager's identity component.
func (c *Container) Identity() *model.Component {
	return c.manager.Identity()
}

// watchOperatingState relays manager lifecycle transitions to controller
// callbacks and advertises controller identities on Online.
func (c *Container) watchOperatingState() {
	defer close(c.watchDone)
	for state := range c.stateSub.States() {
		switch state {
		case com.OperatingStateStarting:
			for _, ctrl := range c.controllers {
				ctrl.OnCommunicationManagerStarting()
			}
		case com.OperatingStateOnline:
			c.advertiseControllers()
		case com.OperatingStateStopping:
			for _, ctrl := range c.controllers {
				ctrl.OnCommunicationManagerStopping()
			}
		}
	}
}

// advertiseControllers publishes an Advertise for each controller
// component whose configuration requests it.
func (c *Container) advertiseControllers() {
	for _, ctrl := range c.controllers {
		if !ctrl.ShouldAdvertiseIdentity() {
			continue
		}
		identity := ctrl.Identity()
		e, err := com.NewAdvertiseEvent(identity, &com.AdvertiseEventData{Object: &identity.Object})
		if err == nil {
			err = c.manager.PublishAdvertise(e)
		}
		if err != nil {
			c.log.Warn("controller advertise failed", "controller", ctrl.Name(), "error", err)
		}
	}
}

// Shutdown calls OnCommunicationManagerStopping on the controllers of a
// started manager, disposes the controllers in reverse registration
// order, and shuts the communication manager down irreversibly.
func (c *Container) Shutdown() {
	c.shutdown.Do(func() {
		// Deadvertise controller identities while still able to publish.
		if c.manager.OperatingState() == com.OperatingStateOnline {
			ids := make([]string, 0, len(c.controllers))
			for _, ctrl := range c.controllers {
				if ctrl.ShouldAdvertiseIdentity() {
					ids = append(ids, ctrl.Identity().ObjectID)
				}
			}
			if len(ids) > 0 {
				if e, err := com.NewDeadvertiseEvent(c.Identity(), ids...); err == nil {
					_ = c.manager.PublishDeadvertise(e)
				}
			}
		}

		// Detach the lifecycle relay so the stopping callbacks run exactly
		// once, before disposal.
		c.stateSub.Cancel()
		<-c.watchDone
		if state := c.manager.OperatingState(); state == com.OperatingStateStarting || state == com.OperatingStateOnline {
			for _, ctrl := range c.controllers {
				ctrl.OnCommunicationManagerStopping()
			}
		}

		for i := len(c.controllers) - 1; i >= 0; i-- {
			c.controllers[i].OnDispose()
		}
		c.manager.Shutdown()
	})
}

// resolveUser materialises the configured associated user.
func resolveUser(ref *ObjectRefConfig) *model.User {
	user := model.NewUser(ref.Name)
	if ref.ObjectID != "" {
		user.ObjectID = ref.ObjectID
	}
	return user
}

// resolveDevice materialises the configured associated device.
func resolveDevice(ref *ObjectRefConfig) *model.Device {
	device := model.NewDevice(ref.Name)
	if ref.ObjectID != "" {
		device.ObjectID = ref.ObjectID
	}
	return device
}
