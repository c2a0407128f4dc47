// Package sdk builds pipeline manifests programmatically.
//
// Teams that generate pipelines from templates or tooling can construct
// a manifest with the builder instead of string-assembling JSON, and get
// the same validation the server applies on apply.
//
// # Quick Start
//
// Build a manifest and write it to the repository root:
//
//	import "github.com/eifl-dev/eifl/sdk"
//
//	func main() {
//		p := sdk.New("go-service").
//			OnPush("main", "release-*").
//			AllowManual().
//			Step("test", "go test ./...").Done().
//			Step("build", "go build -o bin/service ./cmd/service").
//				CaptureSizes("bin/service").
//				Done()
//
//		if err := p.WriteFile(".eifl.json"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// # Trigger semantics
//
// A manifest without a triggers block is fully permissive: every push
// triggers it and manual runs are allowed. The builder preserves this:
// calling none of OnPush, AllowManual, or Schedule leaves the block
// absent. Calling any of them creates the block, after which only the
// declared sources trigger the pipeline.
package sdk
