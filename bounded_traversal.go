package manifest

import (
	"context"
	"sync"
)

// DefaultConcurrency is a reasonable store fan-out for callers without
// an opinion.
const DefaultConcurrency = 128

// boundedExecutor runs queued tasks with at most a fixed number
// running at once. Tasks may submit further tasks. The first error
// wins; once failed or stopped, queued tasks are discarded and
// in-flight ones are allowed to finish but nothing new starts.
type boundedExecutor struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []func()
	outstanding int
	stopped     bool
	err         error
}

func newBoundedExecutor() *boundedExecutor {
	ex := &boundedExecutor{}
	ex.cond = sync.NewCond(&ex.mu)
	return ex
}

func (ex *boundedExecutor) submit(task func()) {
	ex.mu.Lock()
	ex.outstanding++
	ex.queue = append(ex.queue, task)
	ex.cond.Signal()
	ex.mu.Unlock()
}

func (ex *boundedExecutor) fail(err error) {
	ex.mu.Lock()
	if ex.err == nil {
		ex.err = err
	}
	ex.stopped = true
	ex.cond.Broadcast()
	ex.mu.Unlock()
}

func (ex *boundedExecutor) stop() {
	ex.mu.Lock()
	ex.stopped = true
	ex.cond.Broadcast()
	ex.mu.Unlock()
}

func (ex *boundedExecutor) error() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.err
}

// run blocks until every submitted task has finished or been
// discarded. Tasks must be submitted before run starts, or from within
// running tasks.
func (ex *boundedExecutor) run(limit int) {
	if limit < 1 {
		limit = 1
	}
	wg := sync.WaitGroup{}
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.work()
		}()
	}
	wg.Wait()
}

func (ex *boundedExecutor) work() {
	ex.mu.Lock()
	for {
		for len(ex.queue) == 0 && ex.outstanding > 0 {
			ex.cond.Wait()
		}
		if len(ex.queue) == 0 {
			ex.cond.Broadcast()
			ex.mu.Unlock()
			return
		}
		task := ex.queue[0]
		ex.queue = ex.queue[1:]
		stopped := ex.stopped
		ex.mu.Unlock()
		if !stopped {
			task()
		}
		ex.mu.Lock()
		ex.outstanding--
		if ex.outstanding == 0 {
			ex.cond.Broadcast()
		}
	}
}

// BoundedStream walks the tree of states induced by unfold, keeping at
// most limit unfold calls in flight, and feeds each output to visit in
// completion order (no promise about order across sibling subtrees).
// visit runs on the caller's goroutine. Returning keepGoing==false
// stops the walk: nothing new is scheduled, in-flight unfolds finish
// and their outputs are discarded. The first unfold or visit error is
// terminal for the whole walk; outputs already delivered stand.
func BoundedStream[S, O any](
	ctx context.Context,
	limit int,
	roots []S,
	unfold func(context.Context, S) ([]O, []S, error),
	visit func(O) (bool, error),
) error {
	ex := newBoundedExecutor()
	out := make(chan O)
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	var schedule func(S)
	schedule = func(s S) {
		ex.submit(func() {
			outputs, children, err := unfold(ctx, s)
			if err != nil {
				ex.fail(err)
				return
			}
			for _, o := range outputs {
				select {
				case out <- o:
				case <-stopCh:
					return
				case <-ctx.Done():
					ex.fail(ctx.Err())
					return
				}
			}
			for _, c := range children {
				schedule(c)
			}
		})
	}
	for _, r := range roots {
		schedule(r)
	}

	go func() {
		ex.run(limit)
		stop()
		close(out)
	}()

	var visitErr error
	stopped := false
	for o := range out {
		if stopped {
			continue
		}
		keepGoing, err := visit(o)
		if err != nil {
			visitErr = err
		}
		if err != nil || !keepGoing {
			ex.stop()
			stopped = true
		}
	}
	if visitErr != nil {
		return visitErr
	}
	return ex.error()
}

// seqNode buffers one state's outputs so BoundedStreamOrdered can
// re-sequence completion-order results into traversal order.
type seqNode[O any] struct {
	outputs  []O
	children []*seqNode[O]
	ready    bool
}

// BoundedStreamOrdered is BoundedStream with a delivery guarantee: a
// state's outputs are visited before any output of its children, and
// children are visited in the order unfold returned them. Unfolds
// still run concurrently up to limit; outputs are buffered and
// re-sequenced before visiting.
func BoundedStreamOrdered[S, O any](
	ctx context.Context,
	limit int,
	roots []S,
	unfold func(context.Context, S) ([]O, []S, error),
	visit func(O) (bool, error),
) error {
	ex := newBoundedExecutor()
	mu := sync.Mutex{}
	ready := sync.NewCond(&mu)
	failed := false

	fail := func(err error) {
		ex.fail(err)
		mu.Lock()
		failed = true
		ready.Broadcast()
		mu.Unlock()
	}

	var schedule func(S, *seqNode[O])
	schedule = func(s S, node *seqNode[O]) {
		ex.submit(func() {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			outputs, children, err := unfold(ctx, s)
			if err != nil {
				fail(err)
				return
			}
			childNodes := make([]*seqNode[O], len(children))
			for i := range children {
				childNodes[i] = &seqNode[O]{}
			}
			mu.Lock()
			node.outputs = outputs
			node.children = childNodes
			node.ready = true
			ready.Broadcast()
			mu.Unlock()
			for i, c := range children {
				schedule(c, childNodes[i])
			}
		})
	}

	rootNodes := make([]*seqNode[O], len(roots))
	for i, r := range roots {
		rootNodes[i] = &seqNode[O]{}
		schedule(r, rootNodes[i])
	}

	runDone := make(chan struct{})
	go func() {
		ex.run(limit)
		close(runDone)
	}()

	// Depth-first over the buffered tree, waiting for each node to be
	// filled in before emitting it.
	var visitErr error
	var emit func(*seqNode[O]) bool
	emit = func(node *seqNode[O]) bool {
		mu.Lock()
		for !node.ready && !failed {
			ready.Wait()
		}
		if failed && !node.ready {
			mu.Unlock()
			return false
		}
		outputs, children := node.outputs, node.children
		mu.Unlock()
		for _, o := range outputs {
			keepGoing, err := visit(o)
			if err != nil {
				visitErr = err
			}
			if err != nil || !keepGoing {
				return false
			}
		}
		for _, c := range children {
			if !emit(c) {
				return false
			}
		}
		return true
	}
	for _, n := range rootNodes {
		if !emit(n) {
			break
		}
	}
	ex.stop()
	<-runDone
	if visitErr != nil {
		return visitErr
	}
	return ex.error()
}

// foldNode tracks one state of a bounded unfold/fold: its unfolded
// value, and the slots its children's folded results land in.
type foldNode[U, Out any] struct {
	parent  *foldNode[U, Out]
	index   int
	value   U
	pending int
	results []Out
}

// boundedFold expands states top-down with unfold, then synthesizes
// results bottom-up with fold, keeping at most limit calls (of either
// kind) in flight. fold for a state runs once every child's result is
// in, with results ordered as unfold returned the children. This is
// the engine under derivation: unfold walks parent manifests down the
// changed paths, fold builds and persists the replacement directories.
func boundedFold[In, U, Out any](
	ctx context.Context,
	limit int,
	root In,
	unfold func(context.Context, In) (U, []In, error),
	fold func(context.Context, U, []Out) (Out, error),
) (Out, error) {
	ex := newBoundedExecutor()
	mu := sync.Mutex{}
	var rootResult Out

	var scheduleUnfold func(In, *foldNode[U, Out])
	var scheduleFold func(*foldNode[U, Out])

	scheduleFold = func(node *foldNode[U, Out]) {
		ex.submit(func() {
			out, err := fold(ctx, node.value, node.results)
			if err != nil {
				ex.fail(err)
				return
			}
			parent := node.parent
			if parent == nil {
				mu.Lock()
				rootResult = out
				mu.Unlock()
				return
			}
			mu.Lock()
			parent.results[node.index] = out
			parent.pending--
			last := parent.pending == 0
			mu.Unlock()
			if last {
				scheduleFold(parent)
			}
		})
	}

	scheduleUnfold = func(in In, node *foldNode[U, Out]) {
		ex.submit(func() {
			if err := ctx.Err(); err != nil {
				ex.fail(err)
				return
			}
			value, children, err := unfold(ctx, in)
			if err != nil {
				ex.fail(err)
				return
			}
			node.value = value
			node.pending = len(children)
			node.results = make([]Out, len(children))
			if len(children) == 0 {
				scheduleFold(node)
				return
			}
			for i, c := range children {
				scheduleUnfold(c, &foldNode[U, Out]{parent: node, index: i})
			}
		})
	}

	scheduleUnfold(root, &foldNode[U, Out]{})
	ex.run(limit)
	if err := ex.error(); err != nil {
		var zero Out
		return zero, err
	}
	return rootResult, nil
}
