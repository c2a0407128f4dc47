// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package client is the typed Go client for the EIFL server API. The CLI is
its main consumer, but it is usable from any tool that talks to an EIFL
server.

Construction follows the functional options pattern:

	c, err := client.New("http://ci.example.com:8475",
	    client.WithToken(sessionToken))
	if err != nil {
	    return err
	}
	runs, err := c.ListRuns(ctx, client.RunListOptions{Status: "failed"})

Every method takes a context and returns typed results built on the
server's own backend types, so CLI formatting and JSON output stay in
sync with the API.

Server-side failures come back as *APIError carrying the HTTP status and
the server's structured code and message:

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND" {
	    ...
	}
*/
package client
