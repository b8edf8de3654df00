package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "incidentops-config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with a full, valid file", func() {
			BeforeEach(func() {
				content := `
server:
  http_port: "9090"

storage:
  backend: "redis"
  url: "redis://localhost:6379/0"

dedup:
  window_secs: 600

correlation:
  strategies: ["temporal", "fingerprint"]

circuit_breaker:
  failure_threshold: 3
  success_threshold: 1
  timeout_duration: "10s"
  half_open_max_requests: 2
  count_timeout_as_failure: true

escalation:
  policy_path: "/etc/incidentops/escalation.yaml"
  poll_interval: "5s"

scheduler:
  jobs:
    cleanup:
      schedule: "0 * * * *"
      enabled: true
      timeout: "1m"

broadcaster:
  session_timeout_secs: 60
  heartbeat_secs: 15
  channel_capacity: 2048

messaging:
  backend: "kafka"
  brokers: ["localhost:9092"]
  topic: "incidents"

logging:
  level: "debug"
  format: "console"
`
				Expect(os.WriteFile(configFile, []byte(content), 0644)).To(Succeed())
			})

			It("loads every field", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.HTTPPort).To(Equal("9090"))
				Expect(cfg.Storage.Backend).To(Equal("redis"))
				Expect(cfg.Storage.URL).To(Equal("redis://localhost:6379/0"))
				Expect(cfg.Dedup.WindowSecs).To(Equal(600))
				Expect(cfg.Correlation.Strategies).To(Equal([]string{"temporal", "fingerprint"}))
				Expect(cfg.Breaker.FailureThreshold).To(Equal(3))
				Expect(cfg.Breaker.TimeoutDuration).To(Equal(10 * time.Second))
				Expect(cfg.Breaker.CountTimeoutAsFailure).To(BeTrue())
				Expect(cfg.Escalation.PolicyPath).To(Equal("/etc/incidentops/escalation.yaml"))
				Expect(cfg.Escalation.PollInterval).To(Equal(5 * time.Second))
				Expect(cfg.Scheduler.Jobs["cleanup"].Schedule).To(Equal("0 * * * *"))
				Expect(cfg.Scheduler.Jobs["cleanup"].Timeout).To(Equal(time.Minute))
				Expect(cfg.Broadcaster.SessionTimeoutSecs).To(Equal(60))
				Expect(cfg.Messaging.Backend).To(Equal("kafka"))
				Expect(cfg.Messaging.Brokers).To(ContainElement("localhost:9092"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
			})
		})

		Context("with a minimal file", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("storage:\n  backend: memory\n"), 0644)).To(Succeed())
			})

			It("fills in the documented defaults", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Dedup.WindowSecs).To(Equal(900))
				Expect(cfg.Breaker.FailureThreshold).To(Equal(5))
				Expect(cfg.Breaker.SuccessThreshold).To(Equal(2))
				Expect(cfg.Breaker.TimeoutDuration).To(Equal(30 * time.Second))
				Expect(cfg.Broadcaster.HeartbeatSecs).To(Equal(30))
				Expect(cfg.Messaging.Backend).To(Equal("noop"))
				Expect(cfg.Logging.Level).To(Equal("info"))
			})
		})

		Context("when the backend requires a field that is missing", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("storage:\n  backend: redis\n"), 0644)).To(Succeed())
			})

			It("fails validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("storage.url"))
			})
		})

		Context("when the file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
