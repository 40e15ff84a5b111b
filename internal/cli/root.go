// Package cli is the pixelvariants command line.
package cli

import (
	"fmt"
	"io"

	"github.com/dunamismax/pixelvariants/internal/app"
	"github.com/spf13/cobra"
)

func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelvariants",
		Short: "Turn one image into a set of compressed variants and a thumbnail",
		Long: `pixelvariants decodes an image, normalizes it, bounds its size, stamps a
watermark and writes JPEG, WebP and PNG variants plus a thumbnail.

Examples:
  pixelvariants process photo.jpg --out ./variants
  pixelvariants process photo.heic --watermark=false --max-dimension 2048`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("pixelvariants version {{.Version}}\n")

	root.AddCommand(newProcessCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pixelvariants version %s\n", app.Version)
		},
	})
	return root
}
