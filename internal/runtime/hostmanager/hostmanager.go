// Package hostmanager is the entry point into the runtime: it initializes
// device managers, admits networks through the partitioner and provisioner,
// and schedules inference requests onto the executor.
package hostmanager

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/devices"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/observability"
	"github.com/vnaveen0/glow/internal/partitioner"
	"github.com/vnaveen0/glow/internal/runtime"
	"github.com/vnaveen0/glow/internal/runtime/executor"
	"github.com/vnaveen0/glow/internal/runtime/provisioner"
)

// networkData is the runtime record of one admitted network.
type networkData struct {
	dag      *runtime.DAG
	module   *graph.Module
	refcount atomic.Int64
}

// Options configures a host manager beyond its HostConfig.
type Options struct {
	// DeviceFactory realizes device configs; defaults to the in-process
	// interp devices.
	DeviceFactory devices.Factory
	// PartitionerOptions forwarded to every AddNetwork partitioning run.
	PartitionerOptions partitioner.Options
	// Metrics registry; a private one is created when unset.
	Metrics *observability.Registry
	// Logger, default slog.Default().
	Logger *slog.Logger
}

// HostManager admits, runs, and evicts networks.
type HostManager struct {
	cfg  runtime.HostConfig
	opts Options
	log  *slog.Logger

	// networkLock guards networks, processing, and the queue. It is never
	// held across partitioner, provisioner, executor, or callback calls.
	networkLock sync.Mutex
	networks    map[string]*networkData
	processing  map[string]struct{}
	queue       requestQueue

	activeRequestCount atomic.Int64
	totalRequestCount  atomic.Int64

	devicesMu sync.RWMutex
	devices   runtime.DeviceManagerMap

	exec executor.Executor
	prov provisioner.Provisioner

	metrics      *observability.Registry
	gaugeUsed    *observability.Gauge
	gaugeAvail   *observability.Gauge
	gaugeMax     *observability.Gauge
	reqSubmitted *observability.Counter
	reqRejected  *observability.Counter
	dispatchHist *observability.Histogram
}

// New creates a host manager with the given limits. Call Init before
// AddNetwork.
func New(cfg runtime.HostConfig, opts Options) *HostManager {
	if cfg.MaxActiveRequests < 1 {
		cfg.MaxActiveRequests = runtime.DefaultHostConfig().MaxActiveRequests
	}
	if cfg.ExecutorThreads < 1 {
		cfg.ExecutorThreads = runtime.DefaultHostConfig().ExecutorThreads
	}
	if opts.DeviceFactory == nil {
		opts.DeviceFactory = devices.New
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = observability.NewRegistry()
	}
	h := &HostManager{
		cfg:        cfg,
		opts:       opts,
		log:        log.With("component", "hostmanager"),
		networks:   make(map[string]*networkData),
		processing: make(map[string]struct{}),
		devices:    make(runtime.DeviceManagerMap),
		metrics:    reg,
	}
	h.gaugeUsed = reg.NewGauge(observability.DeviceMemoryUsed, "Bytes of device memory in use across the host")
	h.gaugeAvail = reg.NewGauge(observability.DeviceMemoryAvailable, "Bytes of device memory still available across the host")
	h.gaugeMax = reg.NewGauge(observability.DeviceMemoryMax, "Total bytes of device memory across the host")
	h.reqSubmitted = reg.NewCounter("glow.requests.submitted", "Inference requests submitted")
	h.reqRejected = reg.NewCounter("glow.requests.rejected", "Inference requests rejected at admission")
	h.dispatchHist = reg.NewHistogram("glow.requests.dispatch_seconds", "Queue-to-completion latency", nil)
	return h
}

// Init creates one DeviceManager per config. On any failure every already
// created manager is stopped before returning.
func (h *HostManager) Init(ctx context.Context, configs []runtime.DeviceConfig) error {
	created := make([]runtime.DeviceManager, 0, len(configs))
	rollback := func() {
		for _, dm := range created {
			if err := dm.Stop(ctx); err != nil {
				h.log.Warn("stopping device during init rollback", "device", dm.ID(), "error", err)
			}
		}
	}
	for i, cfg := range configs {
		cfg.ID = runtime.DeviceID(i)
		dm, err := h.opts.DeviceFactory(cfg)
		if err != nil {
			rollback()
			return err
		}
		if err := dm.Init(ctx); err != nil {
			rollback()
			return runtime.WrapError(runtime.KindDeviceError, err, "initializing device %d", i)
		}
		created = append(created, dm)
	}

	h.devicesMu.Lock()
	for _, dm := range created {
		h.devices[dm.ID()] = dm
	}
	h.devicesMu.Unlock()

	h.exec = executor.NewThreadPool(h.devices, h.cfg.ExecutorThreads, h.opts.Logger)
	h.prov = provisioner.New(h.devices, h.opts.Logger)
	h.exportMemoryCounters()
	h.log.Info("host initialized", "devices", len(created),
		"max_active_requests", h.cfg.MaxActiveRequests,
		"max_queue_size", h.cfg.MaxQueueSize,
		"executor_threads", h.cfg.ExecutorThreads)
	return nil
}

// deviceInfos derives partitioner inputs from the initialized devices.
func (h *HostManager) deviceInfos() []runtime.DeviceInfo {
	h.devicesMu.RLock()
	defer h.devicesMu.RUnlock()
	ids := make([]runtime.DeviceID, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	infos := make([]runtime.DeviceInfo, 0, len(ids))
	for _, id := range ids {
		dm := h.devices[id]
		infos = append(infos, runtime.DeviceInfo{
			AvailableMemory: dm.MaximumMemory(),
			BackendName:     dm.BackendName(),
		})
	}
	return infos
}

// AddNetwork partitions and provisions every function of the module, then
// publishes the resulting networks. No partial network is ever observable: on
// any error all loaded pieces are evicted and all reserved names released.
func (h *HostManager) AddNetwork(ctx context.Context, mod *graph.Module,
	cctx *compilation.Context, saturate bool) error {

	names := make([]string, 0, len(mod.Functions()))
	for _, f := range mod.Functions() {
		names = append(names, f.Name())
	}
	if len(names) == 0 {
		return runtime.NewError(runtime.KindFunctionNotFound, "module has no functions")
	}

	h.networkLock.Lock()
	for _, name := range names {
		if _, exists := h.networks[name]; exists {
			h.networkLock.Unlock()
			return runtime.NewError(runtime.KindNetworkNameCollision, "network %q already added", name)
		}
		if _, inflight := h.processing[name]; inflight {
			h.networkLock.Unlock()
			return runtime.NewError(runtime.KindNetworkNameCollision, "network %q is being added", name)
		}
	}
	for _, name := range names {
		h.processing[name] = struct{}{}
	}
	h.networkLock.Unlock()

	spanCtx, span := observability.StartAddNetworkSpan(ctx, names[0])
	defer span.End()

	popts := h.opts.PartitionerOptions
	popts.SaturateHost = saturate
	if popts.Logger == nil {
		popts.Logger = h.opts.Logger
	}
	part := partitioner.New(mod, h.deviceInfos(), popts)
	dags, err := part.Partition(cctx)
	if err != nil {
		span.RecordError(err)
		h.cleanupAddNetwork(spanCtx, names, nil)
		return err
	}

	if err := h.prov.Provision(spanCtx, dags, mod, cctx); err != nil {
		span.RecordError(err)
		h.cleanupAddNetwork(spanCtx, names, dags)
		return err
	}

	h.networkLock.Lock()
	for _, dag := range dags {
		nd := &networkData{dag: dag, module: mod}
		h.networks[dag.Root.Name] = nd
	}
	for _, name := range names {
		delete(h.processing, name)
	}
	h.networkLock.Unlock()

	h.exportMemoryCounters()
	h.log.Info("network added", "names", names, "dags", len(dags))
	return nil
}

// cleanupAddNetwork rolls back a failed AddNetwork: provisioned sub-networks
// are evicted (the provisioner already evicts its own partial loads, so this
// covers fully provisioned DAGs that failed later) and reserved names are
// released.
func (h *HostManager) cleanupAddNetwork(ctx context.Context, names []string, dags runtime.DAGList) {
	for _, dag := range dags {
		for _, node := range dag.Nodes {
			if len(node.DeviceIDs) == 0 {
				continue
			}
			if err := h.prov.Evict(ctx, node.Name, node.DeviceIDs); err != nil {
				h.log.Warn("evicting during addNetwork cleanup", "name", node.Name, "error", err)
			}
		}
	}
	h.networkLock.Lock()
	for _, name := range names {
		delete(h.processing, name)
	}
	h.networkLock.Unlock()
	h.exportMemoryCounters()
}

// RemoveNetwork evicts a network from its devices and forgets it. Fails with
// NetworkInUse while requests are in flight.
func (h *HostManager) RemoveNetwork(ctx context.Context, name string) error {
	h.networkLock.Lock()
	nd, ok := h.networks[name]
	if !ok {
		h.networkLock.Unlock()
		return nil
	}
	if nd.refcount.Load() > 0 {
		h.networkLock.Unlock()
		return runtime.NewError(runtime.KindNetworkInUse,
			"network %q has %d requests in flight", name, nd.refcount.Load())
	}
	delete(h.networks, name)
	h.networkLock.Unlock()

	var errs error
	for _, node := range nd.dag.Nodes {
		if len(node.DeviceIDs) == 0 {
			continue
		}
		if err := h.prov.Evict(ctx, node.Name, node.DeviceIDs); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	h.exportMemoryCounters()
	h.log.Info("network removed", "name", name)
	return errs
}

// NetworkAdded reports whether the named network is resident.
func (h *HostManager) NetworkAdded(name string) bool {
	h.networkLock.Lock()
	defer h.networkLock.Unlock()
	_, ok := h.networks[name]
	return ok
}

// GetNetworkDAG returns the stored DAG for inspection. The DAG stays owned by
// the host manager.
func (h *HostManager) GetNetworkDAG(name string) (*runtime.DAG, error) {
	h.networkLock.Lock()
	defer h.networkLock.Unlock()
	nd, ok := h.networks[name]
	if !ok {
		return nil, runtime.NewError(runtime.KindNetworkNotFound, "network %q", name)
	}
	return nd.dag, nil
}

// ClearHost removes every network and stops every device manager.
// Best-effort: teardown always completes; all errors come back combined.
// Callers must quiesce submissions first, otherwise in-flight callbacks may
// fire after ClearHost returns.
func (h *HostManager) ClearHost(ctx context.Context) error {
	h.networkLock.Lock()
	names := make([]string, 0, len(h.networks))
	for name := range h.networks {
		names = append(names, name)
	}
	h.networkLock.Unlock()
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := h.RemoveNetwork(ctx, name); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if h.exec != nil {
		h.exec.Shutdown()
	}

	h.devicesMu.Lock()
	ids := make([]runtime.DeviceID, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := h.devices[id].Stop(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	h.devicesMu.Unlock()

	h.log.Info("host cleared", "networks", len(names))
	return errs
}

// RunNetwork submits an inference request. It never blocks: admission errors
// reach the callback and the sentinel InvalidRunID is returned. On success
// the assigned request ID comes back; the callback fires from the executor
// pool when the run settles.
func (h *HostManager) RunNetwork(name string, ectx *runtime.ExecutionContext,
	cb runtime.ResultCallback, priority uint64) runtime.RunIdentifier {

	requestID := runtime.RunIdentifier(h.totalRequestCount.Add(1))
	h.reqSubmitted.Inc()

	h.networkLock.Lock()
	if _, ok := h.networks[name]; !ok {
		h.networkLock.Unlock()
		h.reqRejected.Inc()
		cb(runtime.InvalidRunID, runtime.NewError(runtime.KindNetworkNotFound, "network %q", name), ectx)
		return runtime.InvalidRunID
	}
	if h.cfg.MaxQueueSize >= 0 && len(h.queue) >= h.cfg.MaxQueueSize {
		h.networkLock.Unlock()
		h.reqRejected.Inc()
		cb(runtime.InvalidRunID, runtime.NewError(runtime.KindQueueFull,
			"host has %d queued requests", h.cfg.MaxQueueSize), ectx)
		return runtime.InvalidRunID
	}
	heap.Push(&h.queue, &inferRequest{
		networkName: name,
		ectx:        ectx,
		callback:    cb,
		priority:    priority,
		requestID:   requestID,
	})
	h.networkLock.Unlock()

	if h.activeRequestCount.Load() < int64(h.cfg.MaxActiveRequests) {
		h.dispatchNextRun()
	}
	return requestID
}

// RunNetworkBlocking submits a request and waits for its completion.
func (h *HostManager) RunNetworkBlocking(name string, ectx *runtime.ExecutionContext) error {
	done := make(chan error, 1)
	h.RunNetwork(name, ectx, func(_ runtime.RunIdentifier, err error, _ *runtime.ExecutionContext) {
		done <- err
	}, 0)
	return <-done
}

// RunNetworkBlockingBindings wraps the given bindings into a fresh context
// and runs the network to completion.
func (h *HostManager) RunNetworkBlockingBindings(name string, bindings *graph.PlaceholderBindings) error {
	return h.RunNetworkBlocking(name, &runtime.ExecutionContext{Bindings: bindings})
}

// dispatchNextRun pops the highest-priority request and hands it to the
// executor, as long as a dispatch slot is free. The completion callback
// re-enters dispatch, so a finishing request immediately pulls the next one.
func (h *HostManager) dispatchNextRun() {
	h.networkLock.Lock()
	if len(h.queue) == 0 || h.activeRequestCount.Load() >= int64(h.cfg.MaxActiveRequests) {
		h.networkLock.Unlock()
		return
	}
	req := heap.Pop(&h.queue).(*inferRequest)
	nd := h.networks[req.networkName]
	if nd == nil {
		// Removed while queued.
		h.networkLock.Unlock()
		req.callback(req.requestID,
			runtime.NewError(runtime.KindNetworkNotFound, "network %q", req.networkName), req.ectx)
		h.dispatchNextRun()
		return
	}
	h.activeRequestCount.Add(1)
	nd.refcount.Add(1)
	h.networkLock.Unlock()

	start := time.Now()
	_, span := observability.StartDispatchSpan(context.Background(), req.networkName, int64(req.requestID))
	h.exec.Run(nd.dag.Root, req.ectx, req.requestID,
		func(runID runtime.RunIdentifier, err error, ectx *runtime.ExecutionContext) {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
			h.dispatchHist.ObserveDuration(start)
			nd.refcount.Add(-1)
			h.activeRequestCount.Add(-1)
			req.callback(runID, err, ectx)
			h.dispatchNextRun()
		})
}

// exportMemoryCounters publishes the aggregate device memory gauges.
func (h *HostManager) exportMemoryCounters() {
	h.devicesMu.RLock()
	defer h.devicesMu.RUnlock()
	var used, avail, max int64
	for _, dm := range h.devices {
		m := dm.MaximumMemory()
		a := dm.AvailableMemory()
		max += m
		avail += a
		used += m - a
	}
	h.gaugeUsed.Set(float64(used))
	h.gaugeAvail.Set(float64(avail))
	h.gaugeMax.Set(float64(max))
}

// Metrics exposes the registry, e.g. for the admin server.
func (h *HostManager) Metrics() *observability.Registry { return h.metrics }

// Networks lists the resident network names, sorted.
func (h *HostManager) Networks() []string {
	h.networkLock.Lock()
	defer h.networkLock.Unlock()
	names := make([]string, 0, len(h.networks))
	for name := range h.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices exposes the device manager map for inspection.
func (h *HostManager) Devices() runtime.DeviceManagerMap {
	h.devicesMu.RLock()
	defer h.devicesMu.RUnlock()
	out := make(runtime.DeviceManagerMap, len(h.devices))
	for id, dm := range h.devices {
		out[id] = dm
	}
	return out
}
