package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"accel-gap-monitor/models"
	"accel-gap-monitor/transport"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

var (
	publishCount  int64
	successCount  int64
	failCount     int64
	totalLatency  int64 // nanoseconds
	minLatency    int64 = 1 << 62
	maxLatency    int64
	latencies     []int64
	latenciesLock sync.Mutex
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run tools/loadtest.go <broker-url> <device-id> [publishers] [rate-per-publisher] [duration]")
		fmt.Println("Example: go run tools/loadtest.go tcp://localhost:1883 AA:BB:CC:DD:EE:FF 4 50 30s")
		os.Exit(1)
	}

	brokerURL := os.Args[1]
	deviceID := os.Args[2]
	publishers := 1
	rate := 50
	duration := 30 * time.Second

	if len(os.Args) > 3 {
		fmt.Sscanf(os.Args[3], "%d", &publishers)
	}
	if len(os.Args) > 4 {
		fmt.Sscanf(os.Args[4], "%d", &rate)
	}
	if len(os.Args) > 5 {
		d, err := time.ParseDuration(os.Args[5])
		if err == nil {
			duration = d
		}
	}
	if publishers < 1 {
		publishers = 1
	}
	if rate < 1 {
		rate = 1
	}

	u, err := transport.ParseBrokerURL(brokerURL)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	topic := models.AccelerometerTopic(deviceID)

	fmt.Printf("Device Simulator Configuration:\n")
	fmt.Printf("  Broker:     %s\n", brokerURL)
	fmt.Printf("  Topic:      %s\n", topic)
	fmt.Printf("  Publishers: %d\n", publishers)
	fmt.Printf("  Rate:       %d msg/s per publisher\n", rate)
	fmt.Printf("  Duration:   %v\n\n", duration)

	latencies = make([]int64, 0, 10000)
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	startTime := time.Now()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			if err := publisher(ctx, u, topic, rate, seed); err != nil {
				fmt.Printf("publisher %d: %v\n", seed, err)
			}
		}(int64(p))
	}

	wg.Wait()
	printResults(time.Since(startTime))
}

func publisher(ctx context.Context, broker *url.URL, topic string, rate int, seed int64) error {
	conn, err := dial(ctx, broker)
	if err != nil {
		return err
	}

	client := paho.NewClient(paho.ClientConfig{Conn: conn})
	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   "accel-sim-" + uuid.NewString(),
		KeepAlive:  30,
		CleanStart: true,
	}); err != nil {
		return err
	}
	defer client.Disconnect(&paho.Disconnect{ReasonCode: 0})

	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			publishSample(ctx, client, topic, nextSample(rng, step))
		}
	}
}

// dial opens a plain TCP connection for tcp:// and a TLS one for ssl://.
func dial(ctx context.Context, broker *url.URL) (net.Conn, error) {
	if broker.Scheme == "ssl" {
		d := &tls.Dialer{Config: &tls.Config{ServerName: broker.Hostname(), MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", broker.Host)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", broker.Host)
}

// nextSample produces a gravity-dominated signal with small noise and an
// occasional spike, which shows up as a gap in the detector.
func nextSample(rng *rand.Rand, step int) models.Sample {
	z := 9.81 + 0.3*math.Sin(float64(step)/10) + rng.NormFloat64()*0.05
	if rng.Intn(100) == 0 {
		z += 4 + rng.Float64()*4
	}
	return models.Sample{
		X:               rng.NormFloat64() * 0.1,
		Y:               rng.NormFloat64() * 0.1,
		Z:               z,
		TimestampMillis: time.Now().UnixMilli(),
	}
}

func publishSample(ctx context.Context, client *paho.Client, topic string, s models.Sample) {
	start := time.Now()
	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: []byte(models.FormatSample(s)),
	})
	latency := time.Since(start)

	atomic.AddInt64(&publishCount, 1)

	if err != nil {
		atomic.AddInt64(&failCount, 1)
		return
	}

	atomic.AddInt64(&successCount, 1)

	latencyNs := latency.Nanoseconds()
	atomic.AddInt64(&totalLatency, latencyNs)

	for {
		oldMin := atomic.LoadInt64(&minLatency)
		if latencyNs >= oldMin {
			break
		}
		if atomic.CompareAndSwapInt64(&minLatency, oldMin, latencyNs) {
			break
		}
	}

	for {
		oldMax := atomic.LoadInt64(&maxLatency)
		if latencyNs <= oldMax {
			break
		}
		if atomic.CompareAndSwapInt64(&maxLatency, oldMax, latencyNs) {
			break
		}
	}

	latenciesLock.Lock()
	latencies = append(latencies, latencyNs)
	latenciesLock.Unlock()
}

func printResults(duration time.Duration) {
	total := atomic.LoadInt64(&publishCount)
	success := atomic.LoadInt64(&successCount)
	failed := atomic.LoadInt64(&failCount)
	totalLat := atomic.LoadInt64(&totalLatency)
	minLat := atomic.LoadInt64(&minLatency)
	maxLat := atomic.LoadInt64(&maxLatency)

	if total == 0 {
		fmt.Println("No messages published.")
		return
	}

	avgLatency := time.Duration(0)
	if success > 0 {
		avgLatency = time.Duration(totalLat / success)
	}

	latenciesLock.Lock()
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	latenciesLock.Unlock()

	var p50, p95, p99 time.Duration
	if len(sorted) > 0 {
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})
		p50 = time.Duration(sorted[len(sorted)*50/100])
		p95 = time.Duration(sorted[len(sorted)*95/100])
		p99 = time.Duration(sorted[len(sorted)*99/100])
	}

	fmt.Println("\n==========================================")
	fmt.Println("Device Simulator Results")
	fmt.Println("==========================================")
	fmt.Printf("Duration:       %v\n", duration)
	fmt.Printf("Published:      %d\n", total)
	fmt.Printf("Acknowledged:   %d\n", success)
	fmt.Printf("Failed:         %d\n", failed)
	fmt.Printf("Success Rate:   %.2f%%\n", float64(success)/float64(total)*100)
	fmt.Printf("Messages/sec:   %.2f\n", float64(total)/duration.Seconds())
	fmt.Println("\nPUBACK Latency:")
	if success > 0 {
		fmt.Printf("  Min:          %v\n", time.Duration(minLat))
		fmt.Printf("  Max:          %v\n", time.Duration(maxLat))
	}
	fmt.Printf("  Average:      %v\n", avgLatency)
	fmt.Printf("  p50:          %v\n", p50)
	fmt.Printf("  p95:          %v\n", p95)
	fmt.Printf("  p99:          %v\n", p99)
	fmt.Println("==========================================")
}
