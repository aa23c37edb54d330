// cmd/mlupload/main.go
package main

func main() {
	Execute()
}
