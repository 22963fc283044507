package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smallnest/datanexus/agent"
	"github.com/smallnest/datanexus/llm"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sqlStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive analyst session in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		userID, _ := cmd.Flags().GetString("user")
		fewShot, _ := cmd.Flags().GetString("few-shot")

		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := ingestKnowledgeBase(ctx, rt, fewShot); err != nil {
			return err
		}

		threadID := uuid.New().String()
		fmt.Printf("Connected. Thread %s. Type 'exit' to quit.\n\n", threadID)

		var history []llm.Message
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print(promptStyle.Render("you> ") + " ")
			if !scanner.Scan() {
				break
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}
			if question == "exit" || question == "quit" {
				break
			}

			final, err := rt.agent.Ask(ctx, agent.Request{
				Question: question,
				UserID:   userID,
				ThreadID: threadID,
				History:  history,
			})
			if err != nil {
				fmt.Println(errorStyle.Render("error: " + err.Error()))
				continue
			}

			if final.GeneratedSQL != "" {
				fmt.Println(sqlStyle.Render(final.GeneratedSQL))
			}
			fmt.Println(answerStyle.Render(final.Summary))
			if len(final.Figures) > 0 {
				fmt.Println(sqlStyle.Render(fmt.Sprintf("(%d chart(s) planned; view them at /v1/threads/%s/report)", len(final.Figures), threadID)))
			}
			fmt.Println()

			history = append(history,
				llm.Message{Role: llm.RoleUser, Content: question},
				llm.Message{Role: llm.RoleAssistant, Content: final.Summary})
		}
		return scanner.Err()
	},
}

func init() {
	chatCmd.Flags().String("user", "", "User ID for long-term memory (empty disables memory)")
	chatCmd.Flags().String("few-shot", "", "Path to a question,sql CSV of few-shot examples")
	rootCmd.AddCommand(chatCmd)
}
