// Package executor walks a partitioned network's DAG, issuing one device run
// per node once all of its parents completed.
package executor

import (
	"log/slog"
	"sync"

	"github.com/vnaveen0/glow/internal/runtime"
)

// Executor dispatches DAG executions onto device managers.
type Executor interface {
	// Run executes the DAG under root and reports through cb exactly once.
	// It never blocks the caller; all work happens on the executor's pool.
	Run(root *runtime.DAGNode, ectx *runtime.ExecutionContext,
		runID runtime.RunIdentifier, cb runtime.ResultCallback)
	// Shutdown drains the pool. Run must not be called afterwards.
	Shutdown()
}

// ThreadPoolExecutor runs DAG nodes on a fixed worker pool. Independent nodes
// execute in parallel up to the pool size; a node's device is chosen
// round-robin over its replicas.
type ThreadPoolExecutor struct {
	devices runtime.DeviceManagerMap
	tasks   chan func()
	wg      sync.WaitGroup
	once    sync.Once
	log     *slog.Logger
}

// NewThreadPool creates an executor with the given worker count.
func NewThreadPool(devs runtime.DeviceManagerMap, workers int, logger *slog.Logger) *ThreadPoolExecutor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &ThreadPoolExecutor{
		devices: devs,
		tasks:   make(chan func(), workers*8),
		log:     logger.With("component", "executor"),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				task()
			}
		}()
	}
	return e
}

// Shutdown closes the pool and waits for in-flight tasks.
func (e *ThreadPoolExecutor) Shutdown() {
	e.once.Do(func() {
		e.log.Debug("executor pool draining")
		close(e.tasks)
	})
	e.wg.Wait()
}

// runState is the per-request execution state machine.
type runState struct {
	exec  *ThreadPoolExecutor
	ectx  *runtime.ExecutionContext
	runID runtime.RunIdentifier
	cb    runtime.ResultCallback

	mu               sync.Mutex
	remainingParents map[*runtime.DAGNode]int
	totalNodes       int
	startedNodes     int
	inflight         int
	failed           error
	reported         bool
}

// Run seeds the children of the root; the root itself is synthetic and
// counts as already completed.
func (e *ThreadPoolExecutor) Run(root *runtime.DAGNode, ectx *runtime.ExecutionContext,
	runID runtime.RunIdentifier, cb runtime.ResultCallback) {

	st := &runState{
		exec:             e,
		ectx:             ectx,
		runID:            runID,
		cb:               cb,
		remainingParents: make(map[*runtime.DAGNode]int),
	}
	var count func(n *runtime.DAGNode)
	seen := make(map[*runtime.DAGNode]bool)
	count = func(n *runtime.DAGNode) {
		if seen[n] {
			return
		}
		seen[n] = true
		st.remainingParents[n] = len(n.Parents)
		st.totalNodes++
		for _, c := range n.Children {
			count(c)
		}
	}
	for _, c := range root.Children {
		count(c)
	}

	st.mu.Lock()
	var ready []*runtime.DAGNode
	for _, c := range root.Children {
		st.remainingParents[c]--
		if st.remainingParents[c] == 0 {
			ready = append(ready, c)
		}
	}
	st.markStarted(ready)
	finish := st.maybeFinishLocked()
	st.mu.Unlock()
	st.enqueue(ready)
	if finish != nil {
		finish()
	}
}

// markStarted accounts nodes as in flight. Caller holds st.mu.
func (st *runState) markStarted(nodes []*runtime.DAGNode) {
	st.inflight += len(nodes)
	st.startedNodes += len(nodes)
}

// enqueue hands nodes to the pool. Called without st.mu held. When the task
// channel is full the send moves to its own goroutine, so a worker driving a
// completion chain can never wedge the pool.
func (st *runState) enqueue(nodes []*runtime.DAGNode) {
	for _, n := range nodes {
		node := n
		task := func() { st.executeNode(node) }
		select {
		case st.exec.tasks <- task:
		default:
			go func() { st.exec.tasks <- task }()
		}
	}
}

// executeNode issues one device run and blocks on its completion future.
func (st *runState) executeNode(node *runtime.DAGNode) {
	var err error
	if len(node.DeviceIDs) == 0 {
		err = runtime.NewError(runtime.KindDeviceError,
			"node %s has no provisioned devices", node.Name)
	} else {
		deviceID := node.NextDevice()
		dm, ok := st.exec.devices[deviceID]
		if !ok {
			err = runtime.NewError(runtime.KindDeviceError,
				"node %s references unknown device %d", node.Name, deviceID)
		} else {
			res := <-dm.RunFunction(node.Name, st.ectx)
			err = res.Err
		}
	}
	st.nodeDone(node, err)
}

// nodeDone records a completion, schedules newly unblocked children, and
// fires the callback once everything settled. The first error cancels all
// further dispatch; outstanding runs drain before the callback fires.
func (st *runState) nodeDone(node *runtime.DAGNode, err error) {
	st.mu.Lock()
	st.inflight--
	if err != nil && st.failed == nil {
		st.failed = runtime.WrapError(runtime.KindDeviceError, err, "sub-network %s", node.Name)
	}
	var ready []*runtime.DAGNode
	if st.failed == nil {
		for _, c := range node.Children {
			st.remainingParents[c]--
			if st.remainingParents[c] == 0 {
				ready = append(ready, c)
			}
		}
		st.markStarted(ready)
	}
	finish := st.maybeFinishLocked()
	st.mu.Unlock()
	st.enqueue(ready)
	if finish != nil {
		finish()
	}
}

// maybeFinishLocked returns the completion thunk when the request settled:
// either every node ran, or an error stopped dispatch and the in-flight runs
// drained. Caller holds st.mu; the thunk runs unlocked.
func (st *runState) maybeFinishLocked() func() {
	if st.reported || st.inflight > 0 {
		return nil
	}
	if st.failed == nil && st.startedNodes < st.totalNodes {
		return nil
	}
	st.reported = true
	err := st.failed
	return func() { st.cb(st.runID, err, st.ectx) }
}
