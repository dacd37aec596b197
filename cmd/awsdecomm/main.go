// awsdecomm - decommission handler for monitoring keepalive events.
// Verify the host is gone, purge it, tell someone.
package main

func main() {
	Execute()
}
