package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"annoline/internal/engine"
	"annoline/internal/session"
	"annoline/internal/tokenize"
)

const annotateHelp = `commands:
  map <source> <translation>   stage a token mapping
  clear                        drop staged mappings
  process <1|2|3>              submit with the chosen translation
  skip                         come back to this item next session
  reject                       retire this item
  prev <source>                earlier alignments of a source token
  progress                     today's and overall progress
  quit                         end the session (staged mappings are dropped)`

func annotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Run an interactive annotation session in the terminal",
		Long:  "The annotator id may also come from ANNOLINE_ANNOTATOR_ID so it stays out of shell history.\n\n" + annotateHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("annotator-id")
			if id == "" {
				return fmt.Errorf("--annotator-id or ANNOLINE_ANNOTATOR_ID required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := session.Start(ctx, e, id)
				if err != nil {
					return err
				}
				defer s.End()
				return runREPL(ctx, e, s, os.Stdin, os.Stdout)
			})
		},
	}
	cmd.Flags().String("annotator-id", "", "annotator identifier")
	_ = viper.BindPFlag("annotator-id", cmd.Flags().Lookup("annotator-id"))
	return cmd
}

func runREPL(ctx context.Context, e engine.Engine, s *session.Session, in io.Reader, out io.Writer) error {
	t := tracker(e)
	render := func() {
		snap := s.Snapshot()
		if snap.State == session.StateExhausted {
			fmt.Fprintln(out, "No items left. Thank you!")
			return
		}
		w := snap.Current
		fmt.Fprintf(out, "\n[%s] %s\n", w.EntityID, w.SourceText)
		if w.Keyword != "" {
			fmt.Fprintf(out, "  keyword: %s\n", w.Keyword)
		}
		for i, tr := range w.Translations() {
			fmt.Fprintf(out, "  %d) %s\n", i+1, tr)
		}
		fmt.Fprintf(out, "  source tokens: %s\n", strings.Join(tokenize.Words(w.SourceText), " | "))
		for _, m := range snap.Staged {
			fmt.Fprintf(out, "  staged: %s -> %s\n", m.SourceToken, m.TranslationToken)
		}
		if snap.Warning != "" {
			fmt.Fprintf(out, "  ! %s\n", snap.Warning)
		}
	}
	render()
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Fprintln(out, annotateHelp)
			continue
		case "map":
			if len(fields) != 3 {
				fmt.Fprintln(out, "usage: map <source> <translation>")
				continue
			}
			err = s.Stage(session.StageRequest{SourceToken: fields[1], TranslationToken: fields[2]})
		case "clear":
			s.ClearMappings()
		case "process":
			selected, ok := choice(s, fields)
			if !ok {
				fmt.Fprintln(out, "usage: process <1|2|3>")
				continue
			}
			_, err = s.Process(ctx, selected, "", "")
		case "skip":
			err = s.Skip(ctx)
		case "reject":
			err = s.Reject(ctx)
		case "prev":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: prev <source>")
				continue
			}
			prev, perr := e.Repo.ListMappingsBySourceToken(ctx, fields[1], 10)
			if perr != nil {
				return perr
			}
			for _, m := range prev {
				fmt.Fprintf(out, "  %s -> %s  (%s)\n", m.SourceToken, m.TranslationToken, m.EditedSource)
			}
			continue
		case "progress":
			rep, perr := t.Report(ctx, s.AnnotatorID)
			if perr != nil {
				return perr
			}
			fmt.Fprintf(out, "  today %d/%d, total %d, expected %d\n  %s\n", rep.Daily, rep.DailyTarget, rep.Total, rep.Expected, rep.Message)
			continue
		default:
			fmt.Fprintln(out, annotateHelp)
			continue
		}
		if err != nil {
			if engine.IsValidation(err) || errors.Is(err, session.ErrTokenNotFound) || errors.Is(err, session.ErrNoCurrentItem) {
				fmt.Fprintf(out, "  ! %v\n", err)
				continue
			}
			return err
		}
		render()
	}
}

// choice resolves a 1-based candidate number to its translation text.
func choice(s *session.Session, fields []string) (string, bool) {
	if len(fields) != 2 {
		return "", false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 || n > 3 {
		return "", false
	}
	snap := s.Snapshot()
	if snap.Current == nil {
		return "", false
	}
	return snap.Current.Translations()[n-1], true
}
