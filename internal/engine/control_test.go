package engine_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	ws "github.com/gorilla/websocket"

	"github.com/san-kum/vehsim/internal/comm"
	"github.com/san-kum/vehsim/internal/engine"
	"github.com/san-kum/vehsim/internal/logging"
)

var _ = Describe("External control", func() {
	var (
		f      *fixture
		server *comm.Server
		client *comm.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		server = comm.NewServer(comm.Options{Log: logging.Nop()})
		Expect(server.Start()).To(Succeed())
		DeferCleanup(server.Close)

		client = comm.NewInProcClient(server.InProcDialer())
		DeferCleanup(client.Close)

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)

		f = newFixture(engine.Options{
			Transport:     server,
			ProbeInterval: 20 * time.Millisecond,
			ProbeTimeout:  20 * time.Millisecond,
		})
		f.start("builtin:probe")
	})

	Describe("synchronous mode", func() {
		var answerUpTo atomic.Uint64

		serve := func() {
			go func() {
				_ = client.ServeSyncControl(ctx, func(req comm.ControlRequest) (comm.ControlReply, bool) {
					if req.Tick > answerUpTo.Load() {
						return comm.ControlReply{}, false
					}
					return comm.ControlReply{Inputs: []float64{float64(req.Tick)}}, true
				})
			}()
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())
		}

		BeforeEach(func() {
			answerUpTo.Store(1 << 62)
			Expect(f.eng.SetControlMode(engine.ControlSettings{
				Mode:        engine.ControlSync,
				PeriodTicks: 1,
				DelayTicks:  1,
			})).To(Succeed())
		})

		It("applies a reply at request tick plus delay", func() {
			serve()
			f.step(1)
			Expect(f.state("last_u")).To(BeZero())

			f.step(4)
			Expect(f.state("last_u")).To(Equal(4.0))
			Expect(f.eng.Snapshot().InputValues).To(Equal([]float64{4}))
		})

		It("holds the previous inputs when a request times out", func() {
			answerUpTo.Store(2)
			serve()
			f.step(5)
			Expect(f.state("last_u")).To(Equal(2.0))
		})

		It("ignores replies addressed to a run before the last reset", func() {
			dialer := ws.Dialer{NetDialContext: server.InProcDialer()}
			conn, _, err := dialer.DialContext(ctx, "ws://inproc"+comm.PathSync, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(conn.Close)

			// While stale is set every reply carries the previous epoch, as a
			// late answer from before a reset would.
			var stale atomic.Bool
			stale.Store(true)
			go func() {
				for {
					_, data, err := conn.ReadMessage()
					if err != nil {
						return
					}
					var req comm.ControlRequest
					if comm.Decode(data, comm.TypeControlRequest, &req) != nil {
						return
					}
					reply := comm.ControlReply{
						Tick:          req.Tick,
						SchemaVersion: req.SchemaVersion,
						Epoch:         req.Epoch,
						Inputs:        []float64{float64(req.Tick)},
					}
					if stale.Load() && !req.Heartbeat() {
						reply.Epoch--
					}
					out, err := comm.Encode(comm.TypeControlReply, reply)
					if err != nil || conn.WriteMessage(ws.TextMessage, out) != nil {
						return
					}
				}
			}()
			Eventually(server.SyncClientConnected, 2*time.Second).Should(BeTrue())

			f.step(3)
			Expect(f.state("last_u")).To(BeZero())

			stale.Store(false)
			f.reset()
			f.step(3)
			Expect(f.state("last_u")).To(Equal(2.0))
		})

		It("keeps ticking without a client", func() {
			f.step(3)
			Expect(f.state("last_u")).To(BeZero())
		})

		It("spaces requests by the control period", func() {
			Expect(f.eng.SetControlMode(engine.ControlSettings{
				Mode:        engine.ControlSync,
				PeriodTicks: 2,
				DelayTicks:  0,
			})).To(Succeed())
			serve()
			f.step(4)
			// Requests at ticks 1 and 3 apply immediately and hold in between.
			Expect(f.state("last_u")).To(Equal(3.0))
		})

		It("reports the probed client status while paused", func() {
			Expect(f.eng.Status().SyncConnected).To(BeFalse())
			serve()
			Eventually(func() bool { return f.eng.Status().SyncConnected }, 2*time.Second).Should(BeTrue())
		})
	})

	Describe("asynchronous mode", func() {
		BeforeEach(func() {
			Expect(f.eng.SetControlMode(engine.ControlSettings{Mode: engine.ControlAsync, PeriodTicks: 1})).To(Succeed())
			f.eng.Resume()
		})

		It("applies messages carrying the current schema version", func() {
			sc, err := f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())

			Expect(client.SendAsyncControl(ctx, comm.ControlAsync{SchemaVersion: sc.Version + 5, Inputs: []float64{9}})).To(Succeed())
			Consistently(func() float64 { return f.state("last_u") }, 100*time.Millisecond).ShouldNot(Equal(9.0))

			Expect(client.SendAsyncControl(ctx, comm.ControlAsync{SchemaVersion: sc.Version, Inputs: []float64{7}})).To(Succeed())
			Eventually(func() float64 { return f.state("last_u") }, 2*time.Second).Should(Equal(7.0))
		})
	})

	Describe("administrative channel", func() {
		admin := func(cmd comm.AdminCommand) *comm.AdminReply {
			reply, err := client.Admin(ctx, cmd)
			Expect(err).NotTo(HaveOccurred())
			return reply
		}

		It("serves every command type", func() {
			for _, typ := range comm.CommandTypes {
				Expect(typ).NotTo(BeEmpty())
			}

			r := admin(comm.AdminCommand{Type: comm.CmdGetSchema})
			Expect(r.Success).To(BeTrue())
			Expect(r.Schema.ModelName).To(Equal("probe"))

			r = admin(comm.AdminCommand{Type: comm.CmdStep, StepCount: 3})
			Expect(r.Success).To(BeTrue())
			Eventually(f.eng.Tick, 2*time.Second).Should(Equal(uint64(3)))

			r = admin(comm.AdminCommand{Type: comm.CmdSetParameters, ParamUpdates: []comm.Update{{Name: "gain", Value: 2}}})
			Expect(r.Success).To(BeTrue())
			r = admin(comm.AdminCommand{Type: comm.CmdReset})
			Expect(r.Success).To(BeTrue())
			Eventually(func() float64 { return f.param("gain") }, 2*time.Second).Should(Equal(2.0))

			r = admin(comm.AdminCommand{Type: comm.CmdListModels})
			Expect(r.Models).To(ContainElement(HaveField("Ref", "builtin:wide")))

			r = admin(comm.AdminCommand{Type: comm.CmdSetSimConfig, RunSpeed: 2})
			Expect(r.Success).To(BeTrue())
			Expect(r.RunSpeed).To(Equal(2.0))

			r = admin(comm.AdminCommand{Type: comm.CmdGetSimConfig})
			Expect(r.Timestep).To(Equal(0.01))
			Expect(r.Status).NotTo(BeNil())
			Expect(r.Status.ControlMode).To(Equal("local"))

			r = admin(comm.AdminCommand{Type: comm.CmdSetControlMode, ExternalControl: true, SyncMode: true, ControlDelayTicks: 2})
			Expect(r.Success).To(BeTrue())
			Expect(f.eng.ControlSettings()).To(Equal(engine.ControlSettings{Mode: engine.ControlSync, PeriodTicks: 1, DelayTicks: 2}))

			r = admin(comm.AdminCommand{Type: comm.CmdLoadModel, ModelPath: "builtin:wide"})
			Expect(r.Success).To(BeTrue())
			Expect(r.Schema.States).To(HaveLen(7))
		})

		It("fails unknown and malformed commands with a message", func() {
			r := admin(comm.AdminCommand{Type: "fly"})
			Expect(r.Success).To(BeFalse())
			Expect(r.Message).To(ContainSubstring("unknown admin command"))

			r = admin(comm.AdminCommand{Type: comm.CmdSetStartPose})
			Expect(r.Success).To(BeFalse())

			r = admin(comm.AdminCommand{Type: comm.CmdLoadOverlay, OverlayPath: "/does/not/exist.yaml"})
			Expect(r.Success).To(BeFalse())

			r = admin(comm.AdminCommand{Type: comm.CmdSetParameters, ParamUpdates: []comm.Update{{Index: 42}}})
			Expect(r.Success).To(BeFalse())
			Expect(r.Message).To(ContainSubstring("index out of range"))
		})
	})

	It("broadcasts state frames to subscribers", func() {
		var frames atomic.Int64
		go func() {
			_ = client.SubscribeState(ctx, func(comm.StateUpdate) { frames.Add(1) })
		}()
		f.eng.Resume()
		Eventually(frames.Load, 2*time.Second).Should(BeNumerically(">", 0))
	})
})
