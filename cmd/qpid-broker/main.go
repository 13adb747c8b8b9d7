// Command qpid-broker is the server binary wiring TCP connections to
// SessionStates to Queues: it accepts connections, decodes the
// newline-delimited JSON frame encoding wire.go defines (a stand-in for
// byte-exact AMQP 0-10 framing, an explicit Non-goal), and drives each
// one through internal/session, internal/queue, and internal/store,
// exposing the resulting management state through internal/mgmt.
//
// Flags and startup/shutdown shape grounded on
// tools/fakeamps/main.go's flag block and its listen/accept/signal-drain
// structure.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ted-ross/qpid-spf/internal/mgmt"
	"github.com/ted-ross/qpid-spf/internal/queue"
	"github.com/ted-ross/qpid-spf/internal/store"
)

var (
	flagAddr = flag.String("addr", ":5673", "listen address for the session wire protocol")

	flagQueueMaxSize    = flag.Uint64("queue-max-size", 100*1024*1024, "default max queue size in bytes, used to derive flow-control thresholds for queues that do not configure them explicitly")
	flagFlowStopRatio   = flag.Int("flow-stop-ratio", 80, "pct of queue-max-size at which producer flow control activates by default")
	flagFlowResumeRatio = flag.Int("flow-resume-ratio", 70, "pct of queue-max-size at which producer flow control deactivates by default")
	flagThresholdRatio  = flag.Int("queue-threshold-ratio", 90, "pct of a queue's flow-control stop threshold at which a management threshold-alert event fires")

	flagDetachTimeout    = flag.Duration("detach-timeout", 5*time.Minute, "how long a detached session may go without reattaching before it is expired")
	flagSweepInterval    = flag.Duration("sweep-interval", 30*time.Second, "interval between detached-session expiry sweeps")
	flagDestroyRetention = flag.Duration("destroyed-retention", 5*time.Minute, "how long a destroyed management object remains visible in the admin API before being purged")

	flagAdminAddr    = flag.String("admin", ":8090", "admin REST + websocket listen address (empty disables it)")
	flagStoreLatency = flag.Duration("store-latency", 0, "artificial latency applied to every simulated store write")
)

var connectionsAccepted atomic.Uint64

func main() {
	flag.Parse()

	queueLog := log.New(os.Stderr, "[queue] ", log.LstdFlags)
	mgmtLog := log.New(os.Stderr, "[mgmt] ", log.LstdFlags)
	connLog := log.New(os.Stderr, "[conn] ", log.LstdFlags)
	mainLog := log.New(os.Stderr, "[qpid-broker] ", log.LstdFlags)

	hub := mgmt.NewHub(mgmtLog)
	agent := mgmt.NewAgent(hub, mgmtLog)

	factory := &queue.Factory{
		Defaults: queue.DefaultRatios{
			MaxQueueSize:    *flagQueueMaxSize,
			FlowStopRatio:   *flagFlowStopRatio,
			FlowResumeRatio: *flagFlowResumeRatio,
		},
		QueueThresholdEventRatio: *flagThresholdRatio,
		Logger:                   queueLog,
		OnThreshold:              agent.OnQueueThreshold,
		OnFlowActiveChanged:      agent.OnQueueFlowActiveChanged,
	}

	st := store.NewMemoryStore(*flagStoreLatency)
	router := newBrokerRouter(factory, st, agent, queueLog)

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		mainLog.Fatalf("listen %s failed: %v", *flagAddr, err)
	}

	if *flagAdminAddr != "" {
		mgmt.StartAdminServer(*flagAdminAddr, agent, hub, mgmtLog)
	}

	sweeper := mgmt.NewSweeper(agent, *flagDetachTimeout, *flagDestroyRetention, func(sessionID string) {
		mainLog.Printf("session %q expired after %s detached with no reattach", sessionID, *flagDetachTimeout)
	}, mgmtLog)
	go sweeper.Run(*flagSweepInterval)
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		mainLog.Printf("received %v, shutting down", sig)
		_ = listener.Close()
	}()

	mainLog.Printf("qpid-broker listening on %s (admin=%q detach-timeout=%s queue-max-size=%d flow-stop=%d%% flow-resume=%d%%)",
		*flagAddr, *flagAdminAddr, *flagDetachTimeout, *flagQueueMaxSize, *flagFlowStopRatio, *flagFlowResumeRatio)

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if isClosedError(acceptErr) {
				mainLog.Printf("listener closed, exiting")
				return
			}
			mainLog.Printf("accept: %v", acceptErr)
			continue
		}
		n := connectionsAccepted.Add(1)
		id := fmt.Sprintf("%s-%d", conn.RemoteAddr(), n)
		go handleConnection(conn, id, st, router, agent, connLog)
	}
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

func init() {
	log.SetFlags(log.LstdFlags)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "qpid-broker — session/queue/flow-control broker core\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
