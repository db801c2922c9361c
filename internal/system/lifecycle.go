package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/ads/amstcp"
	"github.com/stlehmann/qthmi.ads/internal/ads/sim"
	"github.com/stlehmann/qthmi.ads/internal/api/rest"
	"github.com/stlehmann/qthmi.ads/internal/api/stream"
	"github.com/stlehmann/qthmi.ads/internal/api/websocket"
	"github.com/stlehmann/qthmi.ads/internal/auth"
	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
	"github.com/stlehmann/qthmi.ads/internal/interfaces"
	"github.com/stlehmann/qthmi.ads/internal/screens"
	"github.com/stlehmann/qthmi.ads/internal/storage"
)

// defaultSimNetID is used by the memory transport when no target id is set.
var defaultSimNetID = ads.NetID{127, 0, 0, 1, 1, 1}

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	logger  *zap.Logger
	servers bool

	catalog     *screens.Catalog
	transport   ads.Transport
	conn        *ads.Connector
	panel       *hmi.Panel
	poller      *hmi.Poller
	streamer    *stream.Streamer
	wsHub       *websocket.Hub
	hubCancel   context.CancelFunc
	authService *auth.AuthService

	restServer *rest.Server
	grpcServer *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus
}

type Option func(*LifecycleManager)

// WithTransport replaces the transport built from the ads config.
func WithTransport(t ads.Transport) Option {
	return func(lm *LifecycleManager) { lm.transport = t }
}

// WithoutServers skips the REST, websocket and gRPC servers, e.g. for the
// terminal HMI.
func WithoutServers() Option {
	return func(lm *LifecycleManager) { lm.servers = false }
}

// NewLifecycleManager creates a stopped manager. store may be nil.
func NewLifecycleManager(cfg *config.Config, store *storage.PostgresClient, logger *zap.Logger, opts ...Option) (*LifecycleManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loader, err := screens.NewLoader(cfg.Screens.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen loader: %w", err)
	}
	var screenStore screens.Store
	if store != nil {
		screenStore = store
	}

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		logger:       logger,
		servers:      true,
		catalog:      screens.NewCatalog(loader, screenStore, logger),
		currentState: StateStopped,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm, nil
}

// Start opens the device connection, builds the panel for the default
// screen and starts polling and the API servers.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting qthmi",
		zap.String("transport", lm.config.ADS.Transport),
		zap.String("screen", lm.config.Screens.Default))

	if err := lm.setState(StateInitializing); err != nil {
		return err
	}

	if err := lm.start(ctx); err != nil {
		lm.setError(err)
		lm.teardown(ctx)
		return err
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.String("device", lm.conn.Addr().String()),
		zap.Int("variables", len(lm.panel.Variables())),
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("servers", lm.servers))
	return nil
}

func (lm *LifecycleManager) start(ctx context.Context) error {
	def, source, err := lm.catalog.Get(ctx, lm.config.Screens.Default)
	if err != nil {
		return fmt.Errorf("failed to load screen %s: %w", lm.config.Screens.Default, err)
	}
	lm.logger.Info("Screen loaded",
		zap.String("screen", def.Screen.ID),
		zap.String("source", source))

	if lm.transport == nil {
		t, err := lm.newTransport()
		if err != nil {
			return err
		}
		lm.transport = t
	}

	conn, err := ads.Open(lm.transport, ads.WithPort(lm.config.ADS.Port))
	if err != nil {
		return fmt.Errorf("failed to open ads connection: %w", err)
	}
	lm.conn = conn

	var panelOpts []hmi.PanelOption
	if lm.config.ADS.RollbackOnWriteFailure {
		panelOpts = append(panelOpts, hmi.WithWriteRollback())
	}
	panel, err := hmi.NewPanel(conn, def, lm.logger, panelOpts...)
	if err != nil {
		return fmt.Errorf("failed to build panel: %w", err)
	}
	lm.panel = panel

	if lm.servers {
		lm.streamer = stream.NewStreamer()
		lm.wsHub = websocket.NewHub(panel, lm.logger)
		panel.Attach(lm.wsHub)
		panel.Attach(lm.streamer)

		hubCtx, cancel := context.WithCancel(context.Background())
		lm.hubCancel = cancel
		go lm.wsHub.Run(hubCtx)
	}

	lm.poller = hmi.NewPoller(panel, lm.config.ADS.PollInterval, lm.logger)
	if err := lm.poller.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	if !lm.servers {
		return nil
	}

	if lm.config.Auth.Enabled {
		lm.authService = auth.NewAuthService(lm.userStore(), lm.config.Auth, lm.logger)
		if !lm.config.Auth.IsProductionReady() {
			lm.logger.Warn("JWT secret is the development fallback or too short",
				zap.String("env", lm.config.Auth.JWTSecretEnv))
		}
	}

	if err := lm.startGRPCServer(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	return lm.startRESTServer()
}

func (lm *LifecycleManager) newTransport() (ads.Transport, error) {
	cfg := lm.config.ADS
	target, err := cfg.TargetNetIDValue()
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportMemory:
		if target.IsZero() {
			target = defaultSimNetID
		}
		plc := sim.New(target)
		plc.ServePort(uint16(cfg.Port))
		lm.logger.Info("Using in-memory PLC", zap.String("net_id", target.String()))
		return plc, nil

	case config.TransportTCP:
		source, err := cfg.SourceNetIDValue()
		if err != nil {
			return nil, err
		}
		return amstcp.NewClient(cfg.Address, cfg.Timeout,
			amstcp.WithTargetNetID(target),
			amstcp.WithSourceNetID(source),
			amstcp.WithSourcePort(uint16(cfg.SourcePort)),
			amstcp.WithLogger(lm.logger)), nil
	}
	return nil, fmt.Errorf("unknown ads transport %q", cfg.Transport)
}

func (lm *LifecycleManager) userStore() auth.UserStore {
	if lm.storage != nil {
		return lm.storage
	}
	lm.logger.Info("Using users from config file", zap.Int("users", len(lm.config.Auth.Users)))
	return auth.NewStaticUserStore(lm.config.Auth.Users, lm.logger)
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	stream.Register(lm.grpcServer, stream.NewValueService(lm.panel, lm.streamer, lm.logger))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "ValueService"))
		if err := lm.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system. The device connection is
// closed last.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()
	if state == StateStopped || state == StateStopping {
		return nil
	}

	lm.logger.Info("Shutting down system")
	lm.setState(StateStopping)

	err := lm.teardown(ctx)

	lm.setState(StateStopped)
	return err
}

func (lm *LifecycleManager) teardown(ctx context.Context) error {
	var errs []error

	if lm.poller != nil {
		lm.poller.Stop()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}
drain:
	for {
		select {
		case err := <-errChan:
			errs = append(errs, err)
		default:
			break drain
		}
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if lm.conn != nil && !lm.conn.Closed() {
		if err := lm.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ads close failed: %w", err))
		}
	}

	lm.restServer, lm.grpcServer, lm.hubCancel = nil, nil, nil
	return errors.Join(errs...)
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Rejected state change", zap.Error(err))
		return err
	}
	lm.currentState = state
	if state != StateError {
		lm.lastErr = nil
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastErr = err
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{State: lm.currentState.String()}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	lm.stateMu.RUnlock()

	if lm.panel != nil {
		status.Screen = lm.panel.Screen().Screen.ID
		status.Variables = len(lm.panel.Variables())
		status.Widgets = len(lm.panel.Widgets())
	}
	if lm.conn != nil {
		status.Device = lm.conn.Addr().String()
	}
	if lm.poller != nil {
		status.PollCycles = lm.poller.Cycles()
		status.FailingVariables = lm.poller.Failing()
	}
	if lm.wsHub != nil {
		status.Clients = lm.wsHub.GetClientCount()
	}
	if lm.streamer != nil {
		status.Clients += lm.streamer.Subscribers()
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.stateMu.RLock()
	status := SystemStatus{State: lm.currentState, Timestamp: time.Now().Unix()}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	lm.stateMu.RUnlock()

	if lm.wsHub != nil {
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, status))
	}

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Panel returns the running panel, nil before Start.
func (lm *LifecycleManager) Panel() *hmi.Panel {
	return lm.panel
}

func (lm *LifecycleManager) Poller() *hmi.Poller {
	return lm.poller
}

func (lm *LifecycleManager) Catalog() *screens.Catalog {
	return lm.catalog
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)
