package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quizbot-service/internal/bank"
	"quizbot-service/internal/config"
	"quizbot-service/internal/domain"
	"quizbot-service/internal/infra/file"
)

// NewValidateCmd checks question files without starting the server.
func NewValidateCmd(configPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the question set files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Quiz.Dir
			}
			if dir == "" {
				dir = defaultQuestionDir
			}

			b := bank.New(config.Duration(cfg.Quiz.DefaultDelay, domain.DefaultDelay))
			if err := b.Reload(cmd.Context(), file.NewLoader(dir)); err != nil {
				return err
			}
			for _, topic := range b.Topics() {
				set, _ := b.Get(topic)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d questions, %s per question\n", topic, len(set.Questions), b.DelayFor(topic))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "question directory (defaults to quiz.dir)")
	return cmd
}
