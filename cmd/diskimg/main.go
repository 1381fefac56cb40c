// diskimg inspects and builds GPT-partitioned disk images with FAT
// file systems.
package main

func main() {
	Execute()
}
