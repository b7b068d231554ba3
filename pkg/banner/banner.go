// Package banner prints the startup art and status lines shared by
// cmd/hub and cmd/pool.
package banner

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

func Print(role string) {
	art := `
 ██████╗ ██████╗ ███╗   ██╗████████╗██╗   ██╗███╗   ██╗
██╔════╝██╔═══██╗████╗  ██║╚══██╔══╝██║   ██║████╗  ██║
██║     ██║   ██║██╔██╗ ██║   ██║   ██║   ██║██╔██╗ ██║
██║     ██║   ██║██║╚██╗██║   ██║   ██║   ██║██║╚██╗██║
╚██████╗╚██████╔╝██║ ╚████║   ██║   ╚██████╔╝██║ ╚████║
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝   ╚═╝    ╚═════╝ ╚═╝  ╚═══╝
`
	c := color.New(color.FgCyan, color.Bold)
	c.Println(art)

	fmt.Printf("   %s :: Reverse-Dial TCP Tunnel\n", role)
	fmt.Printf("   Start Time: %s\n", time.Now().Format(time.RFC1123))
	fmt.Println(strings.Repeat("-", 50))
}

// PrintHubStatus reports the hub's bound listeners and operating mode
// once both are up.
func PrintHubStatus(clientAddr, poolAddr, mode string) {
	color.Green("✓ Hub Started Successfully")
	fmt.Printf("   • Mode:           %s\n", mode)
	fmt.Printf("   • Client listen:  %s\n", clientAddr)
	fmt.Printf("   • Pool listen:    %s\n", poolAddr)
	fmt.Println(strings.Repeat("-", 50))
}

// PrintPoolStatus reports a worker pool's configuration once it starts
// dialing the hub.
func PrintPoolStatus(hubAddr string, workers int, mode, targetAddr string) {
	color.Green("✓ Pool Started Successfully")
	fmt.Printf("   • Mode:        %s\n", mode)
	fmt.Printf("   • Hub:         %s\n", hubAddr)
	fmt.Printf("   • Workers:     %d\n", workers)
	if targetAddr != "" {
		fmt.Printf("   • Target:      %s\n", targetAddr)
	}
	fmt.Println(strings.Repeat("-", 50))
}
