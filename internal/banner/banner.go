package banner

import "fmt"

// Logo is the ASCII art logo for Mend
const Logo = `
   ███╗   ███╗███████╗███╗   ██╗██████╗
   ████╗ ████║██╔════╝████╗  ██║██╔══██╗
   ██╔████╔██║█████╗  ██╔██╗ ██║██║  ██║
   ██║╚██╔╝██║██╔══╝  ██║╚██╗██║██║  ██║
   ██║ ╚═╝ ██║███████╗██║ ╚████║██████╔╝
   ╚═╝     ╚═╝╚══════╝╚═╝  ╚═══╝╚═════╝
`

// Tagline is the project tagline
const Tagline = "AI That Fixes Your Issues"

// StartupWatch prints the watch-mode startup banner
func StartupWatch(version, repo, label, schedule string) {
	fmt.Print(Logo)
	fmt.Printf("   %s\n", Tagline)
	fmt.Println()
	fmt.Printf("   Version:   v%s\n", version)
	fmt.Printf("   Repo:      %s\n", repo)
	fmt.Printf("   Label:     %s\n", label)
	fmt.Printf("   Schedule:  %s\n", schedule)
	fmt.Println()
	fmt.Println("   Listening... (Ctrl+C to stop)")
	fmt.Println()
}
