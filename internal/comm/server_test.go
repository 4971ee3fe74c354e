package comm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/logging"
	"github.com/san-kum/vehsim/internal/observability"
)

var _ = Describe("Server", func() {
	var (
		server *comm.Server
		client *comm.Client
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		metrics, err := observability.NewCollector(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())
		server = comm.NewServer(comm.Options{Log: logging.Nop(), Metrics: metrics})
		Expect(server.Start()).To(Succeed())
		client = comm.NewInProcClient(server.InProcDialer())
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		Expect(client.Close()).To(Succeed())
		Expect(server.Close()).To(Succeed())
	})

	Describe("broadcast channels", func() {
		It("sends the current schema to late subscribers", func() {
			Expect(server.PublishSchema(comm.Schema{Version: 3, ModelName: "m"})).To(Succeed())

			got := make(chan comm.Schema, 4)
			go func() {
				defer GinkgoRecover()
				_ = client.SubscribeSchema(ctx, func(s comm.Schema) { got <- s })
			}()

			var first comm.Schema
			Eventually(got, 2*time.Second).Should(Receive(&first))
			Expect(first.Version).To(Equal(uint64(3)))
			Expect(first.ModelName).To(Equal("m"))
		})

		It("delivers state frames to subscribers", func() {
			var frames atomic.Int64
			var last atomic.Uint64
			go func() {
				defer GinkgoRecover()
				_ = client.SubscribeState(ctx, func(u comm.StateUpdate) {
					frames.Add(1)
					last.Store(u.Tick)
				})
			}()

			tick := uint64(0)
			Eventually(func() int64 {
				tick++
				Expect(server.PublishState(comm.StateUpdate{Tick: tick, States: []float64{1, 2}})).To(Succeed())
				return frames.Load()
			}, 2*time.Second, 10*time.Millisecond).Should(BeNumerically(">", 0))
			Expect(last.Load()).To(BeNumerically(">", 0))
		})

		It("publishes without subscribers", func() {
			Expect(server.PublishState(comm.StateUpdate{Tick: 1})).To(Succeed())
		})
	})

	Describe("synchronous control", func() {
		serve := func(c *comm.Client, handle comm.ControlHandler) chan error {
			done := make(chan error, 1)
			go func() {
				done <- c.ServeSyncControl(ctx, handle)
			}()
			return done
		}

		echo := func(req comm.ControlRequest) (comm.ControlReply, bool) {
			return comm.ControlReply{Inputs: []float64{0.25, float64(req.Tick)}}, true
		}

		It("refuses requests with no client attached", func() {
			Expect(server.SendControlRequest(comm.ControlRequest{Tick: 1})).To(MatchError(dynamo.ErrNoSyncClient))
			Expect(server.SyncClientConnected()).To(BeFalse())
			Expect(server.ProbeConnection(10 * time.Millisecond)).To(BeFalse())
		})

		It("round-trips a request and reply", func() {
			serve(client, echo)
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())
			Expect(server.ProbeConnection(time.Second)).To(BeTrue())

			Expect(server.SendControlRequest(comm.ControlRequest{Tick: 5, SchemaVersion: 2, Epoch: 3})).To(Succeed())
			reply, ok := server.WaitControlReply(time.Now().Add(2 * time.Second))
			Expect(ok).To(BeTrue())
			Expect(reply.Tick).To(Equal(uint64(5)))
			Expect(reply.SchemaVersion).To(Equal(uint64(2)))
			Expect(reply.Epoch).To(Equal(uint64(3)))
			Expect(reply.Inputs).To(Equal([]float64{0.25, 5}))
			Expect(server.SyncClientConnected()).To(BeTrue())
		})

		It("marks the client disconnected when a reply times out", func() {
			serve(client, func(comm.ControlRequest) (comm.ControlReply, bool) { return comm.ControlReply{}, false })
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())

			Expect(server.SendControlRequest(comm.ControlRequest{Tick: 1})).To(Succeed())
			_, ok := server.WaitControlReply(time.Now().Add(30 * time.Millisecond))
			Expect(ok).To(BeFalse())
			Expect(server.SyncClientConnected()).To(BeFalse())

			// Heartbeats are still echoed by the client.
			Expect(server.ProbeConnection(time.Second)).To(BeTrue())
			Expect(server.SyncClientConnected()).To(BeTrue())
		})

		It("keeps replies that arrive during a probe", func() {
			serve(client, echo)
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())

			Expect(server.SendControlRequest(comm.ControlRequest{Tick: 7})).To(Succeed())
			Expect(server.ProbeConnection(time.Second)).To(BeTrue())

			reply, ok := server.PollControlReply()
			Expect(ok).To(BeTrue())
			Expect(reply.Tick).To(Equal(uint64(7)))
		})

		It("lets the newest client replace the previous one", func() {
			first := serve(client, echo)
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())

			second := comm.NewInProcClient(server.InProcDialer())
			defer second.Close()
			serve(second, func(req comm.ControlRequest) (comm.ControlReply, bool) {
				return comm.ControlReply{Inputs: []float64{9}}, true
			})

			Eventually(first, 2*time.Second).Should(Receive())
			Expect(server.SendControlRequest(comm.ControlRequest{Tick: 3})).To(Succeed())
			reply, ok := server.WaitControlReply(time.Now().Add(2 * time.Second))
			Expect(ok).To(BeTrue())
			Expect(reply.Inputs).To(Equal([]float64{9}))
		})
	})

	Describe("asynchronous control", func() {
		It("queues inputs for polling", func() {
			_, ok := server.PollAsyncControl()
			Expect(ok).To(BeFalse())

			Expect(client.SendAsyncControl(ctx, comm.ControlAsync{Tick: 4, SchemaVersion: 1, Inputs: []float64{0.1}})).To(Succeed())

			var msg comm.ControlAsync
			Eventually(func() bool {
				var ok bool
				msg, ok = server.PollAsyncControl()
				return ok
			}, 2*time.Second, 5*time.Millisecond).Should(BeTrue())
			Expect(msg.Tick).To(Equal(uint64(4)))
			Expect(msg.Inputs).To(Equal([]float64{0.1}))
		})
	})

	Describe("administrative commands", func() {
		It("holds one command at a time and rejects the rest", func() {
			replies := make(chan *comm.AdminReply, 1)
			go func() {
				defer GinkgoRecover()
				r, err := client.Admin(ctx, comm.AdminCommand{Type: comm.CmdRun})
				Expect(err).NotTo(HaveOccurred())
				replies <- r
			}()

			var cmd comm.AdminCommand
			Eventually(func() bool {
				var ok bool
				cmd, ok = server.PollAdminCommand()
				return ok
			}, 2*time.Second, 5*time.Millisecond).Should(BeTrue())
			Expect(cmd.Type).To(Equal(comm.CmdRun))

			_, again := server.PollAdminCommand()
			Expect(again).To(BeFalse())

			other := comm.NewInProcClient(server.InProcDialer())
			defer other.Close()
			rejected, err := other.Admin(ctx, comm.AdminCommand{Type: comm.CmdPause})
			Expect(err).NotTo(HaveOccurred())
			Expect(rejected.Success).To(BeFalse())
			Expect(rejected.Message).To(ContainSubstring("pending"))

			server.ReplyAdmin(comm.AdminReply{Success: true, Message: "running"})
			var reply *comm.AdminReply
			Eventually(replies, 2*time.Second).Should(Receive(&reply))
			Expect(reply.Success).To(BeTrue())
			Expect(reply.Message).To(Equal("running"))
		})

		It("ignores replies with nothing pending", func() {
			Expect(func() { server.ReplyAdmin(comm.AdminReply{Success: true}) }).NotTo(Panic())
			_, ok := server.PollAdminCommand()
			Expect(ok).To(BeFalse())
		})
	})

	It("serves metrics", func() {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, comm.PathMetrics, nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Envelope", func() {
	It("rejects a frame of the wrong type", func() {
		data, err := comm.Encode(comm.TypeState, comm.StateUpdate{Tick: 1})
		Expect(err).NotTo(HaveOccurred())
		var reply comm.ControlReply
		Expect(comm.Decode(data, comm.TypeControlReply, &reply)).To(MatchError(ContainSubstring("unexpected message type")))
	})

	It("looks up inputs by name", func() {
		s := comm.Schema{Inputs: []comm.ChannelInfo{{Index: 0, Name: "steering_angle"}, {Index: 1, Name: "ax"}}}
		Expect(s.InputIndex("ax")).To(Equal(1))
		Expect(s.InputIndex("brake")).To(Equal(-1))
		Expect(s.InputNames()).To(Equal([]string{"steering_angle", "ax"}))
	})
})
