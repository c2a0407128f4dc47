package sdk_test

import (
	"fmt"

	"github.com/eifl-dev/eifl/sdk"
)

func ExampleNew() {
	data, err := sdk.New("go-service").
		OnPush("main").
		AllowManual().
		Step("test", "go test ./...").Done().
		Step("build", "go build -o bin/service ./cmd/service").
		CaptureSizes("bin/service").
		Done().
		JSON()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Print(string(data))
	// Output:
	// {
	//   "name": "go-service",
	//   "triggers": {
	//     "push": {
	//       "branches": [
	//         "main"
	//       ]
	//     },
	//     "manual": true
	//   },
	//   "steps": [
	//     {
	//       "name": "test",
	//       "run": "go test ./..."
	//     },
	//     {
	//       "name": "build",
	//       "run": "go build -o bin/service ./cmd/service",
	//       "capture_sizes": [
	//         "bin/service"
	//       ]
	//     }
	//   ]
	// }
}
