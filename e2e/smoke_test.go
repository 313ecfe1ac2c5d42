//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pauricg23/SOIL-TEMP/internal/mqtt"
	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

const repoRootRel = ".."          // relative to ./e2e
const mainPkgRel = "./cmd/server" // server entrypoint
const mqttPort = nat.Port("1883/tcp")

func TestSmoke_HTTPAndMQTTIngest(t *testing.T) {
	repoRoot := repoRootPath(t)
	brokerHost, brokerPort := startMosquitto(t)

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)
	dbPath := filepath.Join(t.TempDir(), "soil.db")

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"SOIL_APP_ENV=dev",
		"SOIL_LOG_LEVEL=debug",
		"SOIL_HTTP_ADDR="+addr,
		"SOIL_SQLITE_PATH="+dbPath,
		"SOIL_MQTT_BROKER="+brokerHost,
		"SOIL_MQTT_PORT="+strconv.Itoa(brokerPort),
		"SOIL_MQTT_CLIENT_ID=soil-e2e-server",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	base := "http://" + addr

	waitForOK(t, client, base+"/healthz", 10*time.Second)
	waitForBody(t, client, base+"/healthz", `"mqtt":"connected"`, 10*time.Second)

	t.Run("http ingest", func(t *testing.T) {
		resp, err := client.Post(base+"/submit", "application/json",
			strings.NewReader(`{"t1":18.5,"ts":null,"sensor_id":"bed-1"}`))
		if err != nil {
			t.Fatalf("POST /submit: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusCreated)
		}
		got := getLatest(t, client, base, "bed-1")
		if got.Value != 18.5 {
			t.Fatalf("latest value=%v want=18.5", got.Value)
		}
	})

	t.Run("http ingest of every probe depth", func(t *testing.T) {
		resp, err := client.Post(base+"/submit", "application/json",
			strings.NewReader(`{"t1":20.5,"t2":19.0,"t3":18.25,"battery":3.91,"battery_status":"ok","sensor_id":"stake-1"}`))
		if err != nil {
			t.Fatalf("POST /submit: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusCreated)
		}
		for sensor, want := range map[string]float64{"stake-1": 20.5, "stake-1-t2": 19.0, "stake-1-t3": 18.25} {
			got := getLatest(t, client, base, sensor)
			if got.Value != want || got.BatteryV == nil || *got.BatteryV != 3.91 {
				t.Errorf("latest %s = %+v want %v with battery 3.91", sensor, got, want)
			}
		}
		waitForBody(t, client, base+"/healthz", `"total_readings":4`, 5*time.Second)
	})

	t.Run("mqtt ingest", func(t *testing.T) {
		pub := mqtt.NewPublisher(mqtt.Broker{Host: brokerHost, Port: brokerPort, ClientID: "soil-e2e-probe"}, slog.Default())
		t.Cleanup(pub.Disconnect)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.Connect(ctx); err != nil {
			t.Fatalf("publisher connect: %v", err)
		}

		ts := time.Now().UTC().Truncate(time.Second)
		v := 42.25
		if err := pub.PublishTelemetry(shared.Telemetry{SensorID: "heap-1", Timestamp: ts, Temperature: &v}); err != nil {
			t.Fatalf("publish: %v", err)
		}

		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := client.Get(base + "/api/v1/readings/latest?sensor_id=heap-1")
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					break
				}
			}
			time.Sleep(200 * time.Millisecond)
		}

		got := getLatest(t, client, base, "heap-1")
		if got.Value != 42.25 || !got.Time.Equal(ts) {
			t.Fatalf("latest=%+v want 42.25 at %s", got, ts)
		}
	})

	t.Run("metrics exposed", func(t *testing.T) {
		waitForBody(t, client, base+"/metrics", `soil_readings_recorded_total{sensor="heap-1",source="mqtt"} 1`, 5*time.Second)
	})

	stopServer(t, cmd)
}

type latestReading struct {
	SensorID string    `json:"sensorId"`
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	BatteryV *float64  `json:"batteryV"`
}

func getLatest(t *testing.T, client *http.Client, base, sensor string) latestReading {
	t.Helper()
	resp, err := client.Get(base + "/api/v1/readings/latest?sensor_id=" + sensor)
	if err != nil {
		t.Fatalf("GET latest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET latest status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	var r latestReading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode latest: %v", err)
	}
	return r
}

func startMosquitto(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("mosquitto host: %v", err)
	}
	port, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mosquitto port: %v", err)
	}
	return host, port.Int()
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	tmp := t.TempDir()
	out := filepath.Join(tmp, "soil-server")

	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}

	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server not healthy after %s: %s", timeout, url)
}

func waitForBody(t *testing.T, client *http.Client, url, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			last = string(b)
			if strings.Contains(last, want) {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("%s never contained %q; last body:\n%s", url, want, last)
}

func stopServer(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("server did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("server exited non-zero: %v", err)
			}
			t.Fatalf("server wait error: %v", err)
		}
	}
}
