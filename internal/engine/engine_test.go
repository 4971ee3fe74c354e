package engine_test

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/engine"
	"github.com/san-kum/vehsim/internal/scene"
)

func writeFile(name, body string) string {
	path := filepath.Join(GinkgoT().TempDir(), name)
	Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Engine", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(engine.Options{})
	})

	Describe("without a model", func() {
		It("reports no schema", func() {
			_, err := f.eng.Schema()
			Expect(err).To(MatchError(dynamo.ErrNoModel))
			Expect(f.eng.SetParameter(0, 1)).To(MatchError(dynamo.ErrNoModel))
			Expect(f.eng.Paused()).To(BeTrue())
		})

		It("keeps running its loop idle", func() {
			f.eng.Start()
			DeferCleanup(f.eng.Close)
			f.eng.Resume()
			Consistently(f.eng.Tick, 50*time.Millisecond).Should(BeZero())
		})
	})

	Describe("startup", func() {
		It("comes up running when reset-and-run is requested before Start", func() {
			Expect(f.eng.LoadModel("builtin:probe")).To(Succeed())
			f.eng.ResetAndRun()
			f.eng.Start()
			DeferCleanup(f.eng.Close)

			Eventually(f.eng.Tick, 5*time.Second, time.Millisecond).Should(BeNumerically(">", 5))
			Expect(f.eng.Paused()).To(BeFalse())
		})

		It("comes up paused after a plain reset", func() {
			Expect(f.eng.LoadModel("builtin:probe")).To(Succeed())
			before := f.eng.Store().Published()
			f.eng.Reset()
			f.eng.Start()
			DeferCleanup(f.eng.Close)

			Eventually(func() uint64 { return f.eng.Store().Published() }, 5*time.Second, time.Millisecond).
				Should(BeNumerically(">", before))
			Consistently(f.eng.Tick, 50*time.Millisecond).Should(BeZero())
			Expect(f.eng.Paused()).To(BeTrue())
		})

		It("pauses again on a later plain reset", func() {
			Expect(f.eng.LoadModel("builtin:probe")).To(Succeed())
			f.eng.ResetAndRun()
			f.eng.Start()
			DeferCleanup(f.eng.Close)
			Eventually(f.eng.Tick, 5*time.Second, time.Millisecond).Should(BeNumerically(">", 0))

			f.reset()
			Expect(f.eng.Paused()).To(BeTrue())
		})
	})

	Describe("tick accounting", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("starts paused at tick zero", func() {
			Expect(f.eng.Paused()).To(BeTrue())
			Expect(f.eng.Tick()).To(BeZero())
			Expect(f.eng.Snapshot().Tick).To(BeZero())
		})

		It("executes exactly n ticks per step request", func() {
			f.step(5)
			Expect(f.eng.Snapshot().Tick).To(Equal(uint64(5)))
			f.step(3)
			Expect(f.eng.Snapshot().Tick).To(Equal(uint64(8)))
			Consistently(f.eng.Tick, 50*time.Millisecond).Should(Equal(uint64(8)))
		})

		It("increases monotonically while running and holds while paused", func() {
			f.eng.Resume()
			var last uint64
			Eventually(func() uint64 {
				t := f.eng.Tick()
				Expect(t).To(BeNumerically(">=", last))
				last = t
				return t
			}, 5*time.Second, time.Millisecond).Should(BeNumerically(">", 20))

			f.eng.Pause()
			Eventually(f.eng.Paused).Should(BeTrue())
			time.Sleep(20 * time.Millisecond)
			held := f.eng.Tick()
			Consistently(f.eng.Tick, 50*time.Millisecond).Should(Equal(held))
			Expect(f.eng.Snapshot().Tick).To(Equal(held))
		})

		It("advances sim time by dt per tick", func() {
			f.step(10)
			Expect(f.eng.Snapshot().SimTime).To(BeNumerically("~", 0.1, 1e-9))
		})
	})

	Describe("reset", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("reproduces the freshly loaded state", func() {
			fresh := f.eng.Snapshot().StateValues

			f.eng.SetInputs([]float64{5})
			f.step(10)
			Expect(f.state("x")).To(BeNumerically("~", 0.1, 1e-9))
			Expect(f.state("last_u")).To(Equal(5.0))

			f.reset()
			Expect(f.eng.Snapshot().StateValues).To(Equal(fresh))
			Expect(f.eng.Paused()).To(BeTrue())
		})

		It("writes the staged start pose", func() {
			f.eng.SetStartPose(scene.Pose{X: 3, Y: -2, Yaw: 0.5})
			f.step(1)
			f.reset()
			Expect(f.state("x")).To(Equal(3.0))
			Expect(f.state("y")).To(Equal(-2.0))
			Expect(f.state("yaw")).To(Equal(0.5))
			Expect(f.eng.Snapshot().Car.X).To(Equal(3.0))
		})

		It("applies a staged timestep only at reset", func() {
			Expect(f.eng.SetSimConfig(0.02, 0)).To(Succeed())
			dt, pending, _ := f.eng.SimConfig()
			Expect(dt).To(Equal(0.01))
			Expect(pending).To(Equal(0.02))

			f.reset()
			dt, pending, _ = f.eng.SimConfig()
			Expect(dt).To(Equal(0.02))
			Expect(pending).To(BeZero())
			f.step(5)
			Expect(f.eng.Snapshot().SimTime).To(BeNumerically("~", 0.1, 1e-9))
		})

		It("changes run speed immediately", func() {
			Expect(f.eng.SetSimConfig(0, 4)).To(Succeed())
			Expect(f.eng.RunSpeed()).To(Equal(4.0))
		})
	})

	Describe("staged parameters", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("have no effect until reset", func() {
			Expect(f.eng.SetParameterByName("gain", 3)).To(Succeed())
			f.step(10)
			Expect(f.param("gain")).To(Equal(1.0))
			Expect(f.state("x")).To(BeNumerically("~", 0.1, 1e-9))

			f.reset()
			Expect(f.param("gain")).To(Equal(3.0))
			f.step(10)
			Expect(f.state("x")).To(BeNumerically("~", 0.3, 1e-9))
		})

		It("are clamped to the active range", func() {
			Expect(f.eng.SetParameterByName("gain", 50)).To(Succeed())
			f.reset()
			Expect(f.param("gain")).To(Equal(10.0))
		})

		It("apply in arrival order", func() {
			Expect(f.eng.SetParameter(0, 2)).To(Succeed())
			Expect(f.eng.SetParameter(0, 4)).To(Succeed())
			f.reset()
			Expect(f.param("gain")).To(Equal(4.0))
		})

		It("reject unknown names and indices", func() {
			Expect(f.eng.SetParameterByName("nope", 1)).To(MatchError(dynamo.ErrUnknownName))
			Expect(f.eng.SetParameter(7, 1)).To(MatchError(dynamo.ErrIndexOutOfRange))
		})

		It("stage settings by label", func() {
			Expect(f.eng.SetSettingByName("mode", "b")).To(Succeed())
			Expect(f.eng.SetSettingByName("mode", "z")).To(MatchError(dynamo.ErrUnknownName))
			Expect(f.eng.SetSetting(0, 9)).To(MatchError(dynamo.ErrIndexOutOfRange))

			sc, err := f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.Settings[0].Value).To(BeZero())

			f.reset()
			sc, err = f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.Settings[0].Value).To(Equal(int32(1)))
			Expect(sc.Settings[0].Options).To(Equal([]string{"a", "b"}))
		})
	})

	Describe("overlays", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("writes a declared default at activation", func() {
			path := writeFile("ok.yaml", "parameters:\n  mass: {default: 200, min: 100, max: 300}\n")
			before, _ := f.eng.Schema()

			Expect(f.eng.LoadOverlay(path)).To(Succeed())
			Expect(f.param("mass")).To(Equal(250.0))

			f.reset()
			Expect(f.param("mass")).To(Equal(200.0))
			sc, err := f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.Version).To(BeNumerically(">", before.Version))
			Expect(sc.Params[1].Min).To(Equal(100.0))
			Expect(sc.Params[1].Max).To(Equal(300.0))
		})

		It("clamps an out-of-range default", func() {
			path := writeFile("hi.yaml", "parameters:\n  mass: {default: 500, min: 100, max: 300}\n")
			Expect(f.eng.LoadOverlay(path)).To(Succeed())
			f.reset()
			Expect(f.param("mass")).To(Equal(300.0))
		})

		It("leaves state untouched on a malformed file", func() {
			good := writeFile("ok.yaml", "parameters:\n  mass: {default: 200, min: 100, max: 300}\n")
			Expect(f.eng.LoadOverlay(good)).To(Succeed())
			f.reset()

			bad := writeFile("bad.yaml", "parameters: [not, a, map\n")
			Expect(f.eng.LoadOverlay(bad)).NotTo(Succeed())
			f.reset()
			Expect(f.param("mass")).To(Equal(200.0))
			sc, _ := f.eng.Schema()
			Expect(sc.Params[1].Max).To(Equal(300.0))
		})

		It("restores base ranges when cleared", func() {
			path := writeFile("ok.yaml", "parameters:\n  mass: {default: 200, min: 100, max: 300}\n")
			Expect(f.eng.LoadOverlay(path)).To(Succeed())
			f.reset()

			f.eng.ClearOverlay()
			f.reset()
			sc, _ := f.eng.Schema()
			Expect(sc.Params[1].Min).To(Equal(50.0))
			Expect(sc.Params[1].Max).To(Equal(2000.0))
		})

		It("clamps staged parameters to overlay ranges", func() {
			path := writeFile("ok.yaml", "parameters:\n  mass: {min: 100, max: 300}\n")
			Expect(f.eng.LoadOverlay(path)).To(Succeed())
			f.reset()
			Expect(f.eng.SetParameterByName("mass", 1000)).To(Succeed())
			f.reset()
			Expect(f.param("mass")).To(Equal(300.0))
		})
	})

	Describe("model swap", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("destroys the previous instance exactly once", func() {
			before, _ := f.eng.Schema()
			Expect(f.eng.LoadModel("builtin:wide")).To(Succeed())
			Expect(f.destroyedA.Load()).To(Equal(int32(1)))
			Expect(f.destroyedB.Load()).To(BeZero())

			sc, err := f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.ModelName).To(Equal("wide"))
			Expect(sc.States).To(HaveLen(7))
			Expect(sc.Version).To(BeNumerically(">", before.Version))
			Expect(f.eng.Snapshot().StateValues).To(HaveLen(7))
		})

		It("keeps the current model when loading fails", func() {
			Expect(f.eng.LoadModel("builtin:missing")).To(MatchError(dynamo.ErrUnknownModel))
			sc, err := f.eng.Schema()
			Expect(err).NotTo(HaveOccurred())
			Expect(sc.ModelName).To(Equal("probe"))
			Expect(f.destroyedA.Load()).To(BeZero())
		})

		It("drops staged changes aimed at the previous model", func() {
			Expect(f.eng.SetParameterByName("gain", 5)).To(Succeed())
			Expect(f.eng.LoadModel("builtin:wide")).To(Succeed())
			f.reset()
			Expect(f.param("gain")).To(Equal(1.0))
		})

		It("never publishes mismatched snapshots", func() {
			f.eng.Resume()
			stop := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						sc := f.eng.Snapshot()
						Expect(sc.StateValues).To(HaveLen(len(sc.StateNames)))
						Expect(sc.InputValues).To(HaveLen(len(sc.InputNames)))
						Expect(len(sc.StateNames)).To(BeElementOf(4, 7))
					}
				}()
			}
			for i := 0; i < 20; i++ {
				ref := "builtin:wide"
				if i%2 == 1 {
					ref = "builtin:probe"
				}
				Expect(f.eng.LoadModel(ref)).To(Succeed())
				f.eng.Resume()
				time.Sleep(2 * time.Millisecond)
			}
			close(stop)
			wg.Wait()
			Expect(f.destroyedA.Load() + f.destroyedB.Load()).To(Equal(int32(20)))
		})
	})

	Describe("collaborators", func() {
		BeforeEach(func() { f.start("builtin:probe") })

		It("loads a track into the scene and start pose", func() {
			path := writeFile("track.csv", "tag,x,y,yaw\ncar_start,1,2,0.25\nblue,3,4\nyellow,5,6\n")
			Expect(f.eng.SetTrack(path)).To(Succeed())
			Eventually(func() []scene.Cone { return f.eng.Snapshot().Cones }, 2*time.Second).Should(HaveLen(2))

			f.reset()
			Expect(f.state("x")).To(Equal(1.0))
			Expect(f.state("yaw")).To(Equal(0.25))
			Expect(f.eng.Snapshot().Cones[1].Kind).To(Equal(scene.ConeYellow))
		})

		It("rejects a missing track file", func() {
			Expect(f.eng.SetTrack(filepath.Join(GinkgoT().TempDir(), "none.csv"))).NotTo(Succeed())
		})

		It("clamps local inputs to the active range", func() {
			f.eng.SetInputs([]float64{500})
			f.step(1)
			Expect(f.state("last_u")).To(Equal(100.0))
		})
	})

	It("lists builtin models", func() {
		Expect(f.eng.AvailableModels()).To(ContainElements(
			HaveField("Ref", "builtin:probe"),
			HaveField("Ref", "builtin:wide"),
		))
	})
})
