package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gitpod-io/gitpod-sub012/internal/core"
	"github.com/gitpod-io/gitpod-sub012/internal/observability"
	"github.com/gitpod-io/gitpod-sub012/internal/store"
	"github.com/gitpod-io/gitpod-sub012/internal/workqueue"
	"github.com/gitpod-io/gitpod-sub012/internal/wsman"
)

const defaultMaxScore = 100

type Config struct {
	// Installation is recorded as the application cluster of every registered cluster.
	Installation string
	ProbeTimeout time.Duration
}

// Prober checks that a cluster is reachable and reports its workspace classes.
type Prober func(ctx context.Context, cluster core.WorkspaceCluster) (*wsman.DescribeClusterResponse, error)

// DialProber probes clusters over a fresh connection from d.
func DialProber(d wsman.Dialer) Prober {
	return func(ctx context.Context, cluster core.WorkspaceCluster) (*wsman.DescribeClusterResponse, error) {
		client, err := d.Dial(cluster)
		if err != nil {
			return nil, err
		}
		defer client.Close()
		return client.DescribeCluster(ctx)
	}
}

// Reconciler is notified after every change to the cluster records.
type Reconciler interface {
	RunReconcileNow(ctx context.Context) error
}

// Service implements cluster admission. Requests are handled one at a time.
type Service struct {
	cfg        Config
	clusters   store.ClusterStore
	instances  store.InstanceStore
	static     []core.WorkspaceCluster
	probe      Prober
	reconciler Reconciler
	queue      *workqueue.Serial
	log        *zap.Logger
}

func NewService(
	cfg Config,
	clusters store.ClusterStore,
	instances store.InstanceStore,
	static []core.WorkspaceCluster,
	probe Prober,
	reconciler Reconciler,
	log *zap.Logger,
) *Service {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Service{
		cfg:        cfg,
		clusters:   clusters,
		instances:  instances,
		static:     static,
		probe:      probe,
		reconciler: reconciler,
		queue:      workqueue.NewSerial(),
		log:        log.Named("admission"),
	}
}

// Close waits for the request in flight and rejects the rest.
func (s *Service) Close() {
	s.queue.Close()
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	err := s.do(ctx, "Register", func(ctx context.Context) error {
		return s.register(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &RegisterResponse{}, nil
}

func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	err := s.do(ctx, "Update", func(ctx context.Context) error {
		return s.update(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &UpdateResponse{}, nil
}

func (s *Service) Deregister(ctx context.Context, req *DeregisterRequest) (*DeregisterResponse, error) {
	err := s.do(ctx, "Deregister", func(ctx context.Context) error {
		return s.deregister(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &DeregisterResponse{}, nil
}

func (s *Service) List(ctx context.Context, _ *ListRequest) (*ListResponse, error) {
	var resp *ListResponse
	err := s.do(ctx, "List", func(ctx context.Context) error {
		var err error
		resp, err = s.list(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do serializes fn and normalizes its error into a core.AppError.
func (s *Service) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	err := s.queue.Do(ctx, fn)
	if errors.Is(err, workqueue.ErrClosed) {
		err = core.NewAppError(core.ErrUnavailable, "admission service is shutting down")
	}
	code := "OK"
	if err != nil {
		appErr := core.AsAppError(err)
		code = appErr.Code.GRPCCode().String()
		if appErr.Code == core.ErrInternal {
			s.log.Error("admission request failed", zap.String("method", method), zap.Error(err))
		}
		err = appErr
	}
	observability.AdmissionRequestsTotal.WithLabelValues(method, code).Inc()
	return err
}

func (s *Service) register(ctx context.Context, req *RegisterRequest) error {
	if req == nil || req.Name == "" {
		return core.NewAppError(core.ErrInvalidArgument, "name is required")
	}
	if req.URL == "" {
		return core.NewAppError(core.ErrInvalidArgument, "url is required")
	}
	if req.TLS == nil {
		return core.NewAppError(core.ErrInvalidArgument, "missing required TLS config")
	}

	hints := RegistrationHints{Preferability: PreferabilityNone}
	if req.Hints != nil {
		hints = *req.Hints
	}
	score, ok := hints.Preferability.Score()
	if !ok {
		return core.Errorf(core.ErrInvalidArgument, "unknown preferability %d", hints.Preferability)
	}
	for _, ac := range req.AdmissionConstraints {
		if err := ac.Validate(); err != nil {
			return err
		}
	}

	if err := s.ensureUnique(ctx, req.Name, req.URL); err != nil {
		return err
	}

	cluster := core.WorkspaceCluster{
		Name:               req.Name,
		URL:                req.URL,
		TLS:                *req.TLS,
		Region:             req.Region,
		State:              core.CordonedState(hints.Cordoned),
		Score:              score,
		MaxScore:           defaultMaxScore,
		Govern:             hints.Govern,
		ApplicationCluster: s.cfg.Installation,
	}
	for _, ac := range req.AdmissionConstraints {
		cluster.AddConstraint(ac)
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	desc, err := s.probe(probeCtx, cluster)
	cancel()
	if err != nil {
		return core.Errorf(core.ErrFailedPrecondition, "cannot reach %s: %v", req.URL, err)
	}
	if desc != nil {
		cluster.AvailableWorkspaceClasses = desc.Classes()
		cluster.PreferredWorkspaceClass = desc.PreferredWorkspaceClass
	}

	if err := s.clusters.SaveCluster(ctx, cluster); err != nil {
		return fmt.Errorf("save cluster: %w", err)
	}
	s.log.Info("cluster registered",
		zap.String("cluster", cluster.Name),
		zap.String("url", cluster.URL),
		zap.Int32("score", cluster.Score),
		zap.String("state", string(cluster.State)),
		zap.Bool("govern", cluster.Govern),
		zap.Int("classes", len(cluster.AvailableWorkspaceClasses)))
	s.triggerReconcile("register", cluster.Name)
	return nil
}

func (s *Service) ensureUnique(ctx context.Context, name, url string) error {
	for _, st := range s.static {
		if st.Name == name {
			return core.Errorf(core.ErrAlreadyExists, "a static WorkspaceCluster with name %s is configured", name)
		}
		if st.URL == url {
			return core.Errorf(core.ErrAlreadyExists, "a static WorkspaceCluster with url %s is configured", url)
		}
	}

	_, err := s.clusters.FindClusterByName(ctx, name)
	switch {
	case err == nil:
		return core.Errorf(core.ErrAlreadyExists, "a WorkspaceCluster with name %s already exists", name)
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("find cluster by name: %w", err)
	}

	byURL, err := s.clusters.FindClusters(ctx, store.ClusterFilter{URL: url})
	if err != nil {
		return fmt.Errorf("find cluster by url: %w", err)
	}
	if len(byURL) > 0 {
		return core.Errorf(core.ErrAlreadyExists, "a WorkspaceCluster with url %s already exists", url)
	}
	return nil
}

func (s *Service) findDBCluster(ctx context.Context, name string) (*core.WorkspaceCluster, error) {
	if name == "" {
		return nil, core.NewAppError(core.ErrInvalidArgument, "name is required")
	}
	cluster, err := s.clusters.FindClusterByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		if s.isStatic(name) {
			return nil, core.Errorf(core.ErrFailedPrecondition, "WorkspaceCluster %s is statically configured", name)
		}
		return nil, core.Errorf(core.ErrNotFound, "WorkspaceCluster %s does not exist", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find cluster: %w", err)
	}
	return cluster, nil
}

func (s *Service) update(ctx context.Context, req *UpdateRequest) error {
	if req == nil {
		return core.NewAppError(core.ErrInvalidArgument, "empty request")
	}
	cluster, err := s.findDBCluster(ctx, req.Name)
	if err != nil {
		return err
	}

	if req.MaxScore != nil {
		cluster.MaxScore = *req.MaxScore
	}
	if req.Score != nil {
		cluster.Score = *req.Score
	}
	if cluster.Score < 0 || cluster.MaxScore < 0 {
		return core.NewAppError(core.ErrInvalidArgument, "score and maxScore must not be negative")
	}
	if cluster.Score > cluster.MaxScore {
		return core.Errorf(core.ErrInvalidArgument, "score %d exceeds maxScore %d", cluster.Score, cluster.MaxScore)
	}
	if req.Cordoned != nil {
		cluster.State = core.CordonedState(*req.Cordoned)
	}
	if d := req.AdmissionConstraint; d != nil {
		if err := d.Constraint.Validate(); err != nil {
			return err
		}
		if d.Add {
			cluster.AddConstraint(d.Constraint)
		} else {
			cluster.RemoveConstraint(d.Constraint)
		}
	}

	if err := s.clusters.SaveCluster(ctx, *cluster); err != nil {
		return fmt.Errorf("save cluster: %w", err)
	}
	s.log.Info("cluster updated",
		zap.String("cluster", cluster.Name),
		zap.Int32("score", cluster.Score),
		zap.Int32("maxScore", cluster.MaxScore),
		zap.String("state", string(cluster.State)),
		zap.Int("constraints", len(cluster.AdmissionConstraints)))
	s.triggerReconcile("update", cluster.Name)
	return nil
}

func (s *Service) deregister(ctx context.Context, req *DeregisterRequest) error {
	if req == nil {
		return core.NewAppError(core.ErrInvalidArgument, "empty request")
	}
	cluster, err := s.findDBCluster(ctx, req.Name)
	if err != nil {
		return err
	}

	running, err := s.instances.CountRunningInstances(ctx, cluster.Name)
	if err != nil {
		return fmt.Errorf("count running instances: %w", err)
	}
	if running > 0 && !req.Force {
		return core.Errorf(core.ErrFailedPrecondition,
			"cluster %s still has %d running instances, use force to deregister anyway", cluster.Name, running)
	}

	if err := s.clusters.DeleteClusterByName(ctx, cluster.Name); err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	s.log.Info("cluster deregistered",
		zap.String("cluster", cluster.Name),
		zap.Int("runningInstances", running),
		zap.Bool("force", req.Force))
	s.triggerReconcile("deregister", cluster.Name)
	return nil
}

func (s *Service) list(ctx context.Context) (*ListResponse, error) {
	all, err := s.clusters.FindClusters(ctx, store.ClusterFilter{})
	if err != nil {
		return nil, fmt.Errorf("find clusters: %w", err)
	}
	resp := &ListResponse{Status: make([]ClusterStatus, 0, len(all)+len(s.static))}
	inDB := make(map[string]bool, len(all))
	for _, c := range all {
		inDB[c.Name] = true
		resp.Status = append(resp.Status, statusOf(c, false))
	}
	for _, c := range s.static {
		if !inDB[c.Name] {
			resp.Status = append(resp.Status, statusOf(c, true))
		}
	}
	return resp, nil
}

func (s *Service) isStatic(name string) bool {
	for _, c := range s.static {
		if c.Name == name {
			return true
		}
	}
	return false
}

// triggerReconcile does not wait for the reconcile to finish.
func (s *Service) triggerReconcile(action, name string) {
	if s.reconciler == nil {
		return
	}
	log := s.log.With(zap.String("action", action), zap.String("cluster", name))
	log.Info("reconcile: on request")
	go func() {
		if err := s.reconciler.RunReconcileNow(context.Background()); err != nil && !errors.Is(err, workqueue.ErrClosed) {
			log.Error("error during forced reconcile", zap.Error(err))
		}
	}()
}
