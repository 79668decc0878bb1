package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/loader"
)

func newEnhanceCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "enhance <class>",
		Short: "Enhance a single class file",
		Long: `Run one class file through the enhancement pipeline and write the
result. A class that cannot be enhanced is written unchanged and the reason
is logged; a malformed class is an error.

Examples:
  jenhance enhance Service.class -o out/Service.class
  jenhance --config jenhance.toml enhance Service.class -o Service.class`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			res, err := p.Run(data)
			if classfile.IsFormatError(err) {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			for _, ap := range res.Applied {
				fmt.Fprintln(cmd.OutOrStdout(), ap)
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			if err := writeFile(output, res.Output, st.Mode().Perm()); err != nil {
				return err
			}
			a.logger.Info("class written",
				zap.String("class", res.Class),
				zap.String("output", output),
				zap.Bool("enhanced", res.Enhanced),
				zap.Int("applied", len(res.Applied)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newJarCmd(a *app) *cobra.Command {
	var (
		output      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "jar <in.jar>",
		Short: "Enhance every class of a jar",
		Long: `Copy a jar, enhancing its classes in parallel. Other entries are copied
without recompression. Classes that cannot be enhanced are copied unchanged
and listed on stderr. Signed jars are not re-signed.

Examples:
  jenhance jar app.jar -o app-enhanced.jar
  jenhance jar --concurrency 8 --metrics-file jenhance.prom app.jar -o out.jar`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency <= 0 {
				concurrency = a.cfg.Concurrency
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			st, err := in.Stat()
			if err != nil {
				return err
			}

			tmp, err := os.CreateTemp(filepath.Dir(output), ".jenhance-*.jar")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			rep, err := loader.RewriteArchive(cmd.Context(), in, st.Size(), tmp, p, concurrency)
			if err == nil {
				err = tmp.Chmod(st.Mode().Perm())
			}
			if err != nil {
				return multierr.Append(err, tmp.Close())
			}
			if err := tmp.Close(); err != nil {
				return err
			}
			if err := os.Rename(tmp.Name(), output); err != nil {
				return err
			}

			for _, e := range multierr.Errors(rep.Err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "unenhanced:", e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, %d classes, %d enhanced\n",
				output, rep.Entries, rep.Classes, rep.Enhanced)
			a.logger.Info("jar written",
				zap.String("input", args[0]),
				zap.String("output", output),
				zap.Int("classes", rep.Classes),
				zap.Int("enhanced", rep.Enhanced),
				zap.Int("unenhanced", len(multierr.Errors(rep.Err))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output jar (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Classes enhanced in parallel (default from config)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// writeFile writes data next to path and renames it into place with mode
// perm.
func writeFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jenhance-*.class")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Chmod(perm); err != nil {
		return multierr.Append(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
