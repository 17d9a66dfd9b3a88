package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ohmvision/camconnect/internal/detect"
	"github.com/ohmvision/camconnect/internal/probe"
	"github.com/ohmvision/camconnect/internal/profiles"
)

// probecam runs auto-detection against one device from the command line.
// Useful when commissioning a site before the server is up.
func main() {
	host := flag.String("host", "", "Device IP or hostname (required)")
	user := flag.String("user", "", "Username")
	pass := flag.String("pass", "", "Password")
	manufacturer := flag.String("manufacturer", "", "Manufacturer hint")
	channel := flag.Int("channel", 1, "NVR channel")
	declaredURL := flag.String("url", "", "Known stream URL to try first")
	declaredType := flag.String("type", "", "Connection type for -url")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-probe timeout")
	jsonOut := flag.Bool("json", false, "Print the full report as JSON")
	flag.Parse()

	if *host == "" {
		flag.Usage()
		os.Exit(2)
	}

	engine := detect.New(profiles.NewRegistry(), detect.Options{ProbeTimeout: *timeout})

	target := detect.DeviceTarget{
		Host:         *host,
		Username:     *user,
		Password:     *pass,
		Manufacturer: *manufacturer,
		Channel:      *channel,
		DeclaredURL:  *declaredURL,
		DeclaredType: probe.ConnectionType(*declaredType),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	report, err := engine.AutoDetect(ctx, target)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		return
	}

	fmt.Printf("Probed %d candidate(s) in %v\n\n", len(report.All), time.Since(start).Round(time.Millisecond))
	if report.Recommended != nil {
		fmt.Printf("RECOMMENDED: %s %s (%dms)\n\n", report.Recommended.Type, report.Recommended.URL, report.Recommended.ResponseTimeMS)
	} else {
		fmt.Println("No working connection found.")
	}
	for _, res := range report.All {
		status := "FAIL " + string(res.Reason)
		if res.Success {
			status = fmt.Sprintf("OK %dms", res.ResponseTimeMS)
		}
		fmt.Printf("  %-14s %-55s %s\n", res.Type, res.URL, status)
	}
}
