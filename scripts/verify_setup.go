package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
)

func main() {
	fmt.Println("==============================================")
	fmt.Println("  stopscrap environment check")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("Go version: %s\n", goVersion)
	if !strings.HasPrefix(goVersion, "go1.23") && !strings.HasPrefix(goVersion, "go1.24") {
		fmt.Println("warning: Go 1.23+ recommended")
	}

	fmt.Printf("platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// The visitor launches a browser per URL; a system install saves the
	// first-run download.
	if browser, found := launcher.LookPath(); found {
		fmt.Printf("browser found: %s\n", browser)
	} else {
		fmt.Println("no browser install found, one will be downloaded on first scrap run")
	}

	fmt.Println()
	fmt.Println("checking Go module...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("go.mod present")

		cmd := exec.Command("go", "mod", "download")
		if err := cmd.Run(); err != nil {
			fmt.Printf("go mod download failed: %v\n", err)
			allOK = false
		} else {
			fmt.Println("dependencies downloaded")
		}
	} else {
		fmt.Println("go.mod missing, run from the repository root")
		allOK = false
	}

	fmt.Println()
	fmt.Println("checking project layout...")
	requiredDirs := []string{
		"cmd/stopscrap",
		"internal/core",
		"internal/gtfs",
		"internal/models",
		"internal/scrap",
		"internal/storage",
		"internal/utils",
		"configs",
	}

	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("  %s/\n", dir)
		} else {
			fmt.Printf("  %s/ missing\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("environment OK")
		fmt.Println()
		fmt.Println("next steps:")
		fmt.Println("  go build ./cmd/stopscrap")
		fmt.Println("  ./stopscrap --help")
		os.Exit(0)
	}
	fmt.Println("environment check failed, fix the issues above")
	os.Exit(1)
}
