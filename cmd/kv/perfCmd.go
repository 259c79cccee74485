package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for ttlKV servers",
		Long:    "Runs every benchmark with --threads workers for --ops operations and prints latency percentiles and throughput.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfOps              = 10000
	perfTTL              = uint32(60)
	perfSkip             = make([]string, 0)

	perfPercentiles = []float64{0.5, 0.95, 0.99}
)

func init() {
	flags := perfTestCmd.Flags()
	flags.String("skip", "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	flags.Int("threads", 10, util.WrapString("Number of threads to use for the benchmark"))
	flags.Int("ops", 10000, util.WrapString("Number of operations per benchmark"))
	flags.Int("large-value-size", 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	flags.Int("keys", 100, util.WrapString("How many different keys to use for the tests"))
	flags.String("ttl", "60", util.WrapString("TTL used by the set-ttl benchmark (seconds or duration)"))
	flags.String("csv", "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfOps = max(viper.GetInt("ops"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	ttl, err := util.ParseTTL(viper.GetString("ttl"))
	if err != nil {
		return err
	}
	perfTTL = ttl
	return nil
}

// benchmark describes one perf test. setup runs before timing starts, op is
// called for every operation with the key it should use.
type benchmark struct {
	name  string
	setup bool
	op    func(key string, i int) error
}

type perfResult struct {
	name    string
	skipped bool
	errors  int64
	elapsed time.Duration
	timer   gometrics.Timer
}

func (r perfResult) opsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.elapsed.Seconds()
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for ttlKV servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Ops: %d, Keys: %d\n", perfNumThreads, perfOps, perfKeySpread)
	fmt.Println()
	fmt.Println("starting tests...")

	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	benchmarks := []benchmark{
		{name: "set", op: func(k string, _ int) error { return rpcStore.Set(k, value) }},
		{name: "set-ttl", op: func(k string, _ int) error { return rpcStore.SetE(k, value, perfTTL) }},
		{name: "set-large", op: func(k string, _ int) error { return rpcStore.Set(k, largeValue) }},
		{name: "get", setup: true, op: func(k string, _ int) error {
			blob, ok, err := rpcStore.Get(k)
			if ok {
				blob.Release()
			}
			return err
		}},
		{name: "ttl", setup: true, op: func(k string, _ int) error { _, _, err := rpcStore.TTL(k); return err }},
		{name: "has", setup: true, op: func(k string, _ int) error { _, err := rpcStore.Has(k); return err }},
		{name: "has-not", op: func(k string, _ int) error { _, err := rpcStore.Has(k + "-missing"); return err }},
		{name: "delete", setup: true, op: func(k string, _ int) error { return rpcStore.Delete(k) }},
		{name: "mixed", setup: true, op: func(k string, i int) error {
			switch i % 5 {
			case 0:
				return rpcStore.SetE(k, value, perfTTL)
			case 1:
				blob, ok, err := rpcStore.Get(k)
				if ok {
					blob.Release()
				}
				return err
			case 2:
				_, _, err := rpcStore.TTL(k)
				return err
			case 3:
				return rpcStore.Expire(k)
			default:
				_, err := rpcStore.Has(k)
				return err
			}
		}},
	}

	registry := gometrics.NewRegistry()
	results := make([]perfResult, 0, len(benchmarks))
	for _, b := range benchmarks {
		r := runBenchmark(registry, b)
		printResult(r)
		results = append(results, r)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return errors.Wrap(err, "failed to export results to CSV")
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runBenchmark spreads perfOps operations over perfNumThreads workers and
// records each latency in a timer registered under the benchmark name
func runBenchmark(registry gometrics.Registry, b benchmark) perfResult {
	timer := gometrics.GetOrRegisterTimer(b.name, registry)
	result := perfResult{name: b.name, timer: timer}
	if slices.Contains(perfSkip, b.name) {
		result.skipped = true
		return result
	}

	getKey, iter := getKeys(b.name)
	if b.setup {
		iter(func(k string) {
			if err := rpcStore.Set(k, []byte("test")); err != nil {
				log.Printf("(%s) - error setting key: %v\n", b.name, err)
			}
		})
	}
	defer iter(func(k string) {
		if err := rpcStore.Delete(k); err != nil {
			log.Printf("(%s) - error deleting key: %v\n", b.name, err)
		}
	})

	var next, failed atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= perfOps {
					return
				}
				opStart := time.Now()
				err := b.op(getKey(i), i)
				timer.UpdateSince(opStart)
				if err != nil && failed.Add(1) == 1 {
					log.Printf("(%s) - error performing operation: %v\n", b.name, err)
				}
			}
		}()
	}
	wg.Wait()

	result.elapsed = time.Since(start)
	result.errors = failed.Load()
	return result
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark in a formatted way
func printResult(r perfResult) {
	if r.skipped {
		fmt.Printf("%-12sskipped\n", r.name)
		return
	}
	snap := r.timer.Snapshot()
	ps := snap.Percentiles(perfPercentiles)
	fmt.Printf("%-12smean=%-12s p50=%-12s p95=%-12s p99=%-12s %.0f ops/sec",
		r.name,
		time.Duration(snap.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		r.opsPerSec(),
	)
	if r.errors > 0 {
		fmt.Printf("  (%d errors)", r.errors)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Ops", "Errors", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}

	for _, r := range results {
		snap := r.timer.Snapshot()
		ps := snap.Percentiles(perfPercentiles)
		row := []string{
			r.name,
			strconv.FormatInt(snap.Count(), 10),
			strconv.FormatInt(r.errors, 10),
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(snap.Max(), 10),
			fmt.Sprintf("%.0f", r.opsPerSec()),
			strconv.FormatBool(r.skipped),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrapf(err, "failed to write row for test %s", r.name)
		}
	}
	return nil
}
