package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"noteflow/internal/config"
	"noteflow/internal/faucet"
	"noteflow/internal/flow"
	"noteflow/internal/note"
	"noteflow/internal/rpc"
)

// withSession runs fn with an open session and closes it afterwards.
func withSession(cmd *cobra.Command, fn func(cfg *config.Config, s *session) error) error {
	cfg := mustConfig(cmd)
	logger := commonRun(cfg)
	s, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cfg, s)
}

func faucetFlag(cfg *config.Config, value string) (note.AccountID, error) {
	if value != "" {
		return note.ParseAccountID(value)
	}
	return cfg.FaucetID()
}

func registerCommand() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a regular account with the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				id, err := note.ParseAccountID(account)
				if err != nil {
					return err
				}
				if id.IsFaucet() {
					return errors.New("faucets are registered by deploy")
				}
				if err := s.flow.RegisterAccount(cmd.Context(), rpc.AccountRegistration{ID: id}); err != nil {
					return err
				}
				fmt.Printf("registered %s (%s, %s)\n", id, id.Type(), id.StorageMode())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func deployCommand() *cobra.Command {
	var (
		faucetHex string
		symbol    string
		decimals  uint8
		maxSupply uint64
		owner     string
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Register and deploy a network fungible faucet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				id, err := faucetFlag(cfg, faucetHex)
				if err != nil {
					return err
				}
				ownerID, err := note.ParseAccountID(owner)
				if err != nil {
					return fmt.Errorf("owner: %w", err)
				}
				sym, err := faucet.NewTokenSymbol(symbol)
				if err != nil {
					return err
				}
				f, err := faucet.NewNetworkFaucet(id, sym, decimals, maxSupply, ownerID)
				if err != nil {
					return err
				}
				receipt, err := s.flow.DeployFaucet(cmd.Context(), f)
				if err != nil {
					return err
				}
				fmt.Printf("deployed %s in block %d (tx %s)\n", f, receipt.BlockNum, receipt.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&faucetHex, "faucet", "", "faucet account id (defaults to the configured faucet)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "token symbol, 1 to 6 letters")
	cmd.Flags().Uint8Var(&decimals, "decimals", 8, "token decimals")
	cmd.Flags().Uint64Var(&maxSupply, "max-supply", 1_000_000_000, "maximum supply")
	cmd.Flags().StringVar(&owner, "owner", "", "owner account id, the only account allowed to mint")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func mintCommand() *cobra.Command {
	var (
		faucetHex string
		target    string
		amount    uint64
		aux       uint64
		public    bool
		serial    string
		issueOnly bool
		out       string
		after     uint32
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint tokens from a network faucet into an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				req := flow.MintRequest{Amount: amount, NoteType: note.NotePrivate, AfterBlock: after}
				var err error
				if req.Faucet, err = faucetFlag(cfg, faucetHex); err != nil {
					return err
				}
				if req.Target, err = note.ParseAccountID(target); err != nil {
					return fmt.Errorf("target: %w", err)
				}
				if req.Aux, err = note.FeltFromCanonical(aux); err != nil {
					return fmt.Errorf("aux: %w", err)
				}
				if public {
					req.NoteType = note.NotePublic
				}
				if serial != "" {
					w, err := note.ParseWord(serial)
					if err != nil {
						return fmt.Errorf("serial: %w", err)
					}
					req.Serial = &w
				}

				if issueOnly {
					res, err := s.flow.Issue(cmd.Context(), req)
					if err != nil {
						return err
					}
					if out != "" {
						if err := writeNote(out, res.P2ID); err != nil {
							return err
						}
					}
					fmt.Printf("issued note %s in block %d\n", res.P2ID.ID(), res.Issue.BlockNum)
					return nil
				}
				res, err := s.flow.MintToAccount(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Printf(
					"minted %d to %s: issued in block %d, consumed in block %d\n",
					amount, req.Target, res.Issue.BlockNum, res.Consume.BlockNum,
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&faucetHex, "faucet", "", "faucet account id (defaults to the configured faucet)")
	cmd.Flags().StringVar(&target, "target", "", "account receiving the tokens")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to mint")
	cmd.Flags().Uint64Var(&aux, "aux", 0, "auxiliary metadata value")
	cmd.Flags().BoolVar(&public, "public", false, "create a public P2ID note")
	cmd.Flags().StringVar(&serial, "serial", "", "fixed serial number word, random when empty")
	cmd.Flags().BoolVar(&issueOnly, "issue-only", false, "issue the note without consuming it")
	cmd.Flags().StringVar(&out, "out", "", "write the issued P2ID note to this file")
	cmd.Flags().Uint32Var(&after, "after-block", 0, "make the note consumable only from this block on")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func consumeCommand() *cobra.Command {
	var (
		account string
		files   []string
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume notes stored in files into an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				id, err := note.ParseAccountID(account)
				if err != nil {
					return err
				}
				notes := make([]*note.Note, 0, len(files))
				for _, f := range files {
					n, err := readNote(f)
					if err != nil {
						return err
					}
					notes = append(notes, n)
				}
				receipt, err := s.flow.Consume(cmd.Context(), id, notes...)
				if err != nil {
					return err
				}
				fmt.Printf("consumed %d notes in block %d (tx %s)\n", len(notes), receipt.BlockNum, receipt.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "consuming account id")
	cmd.Flags().StringArrayVar(&files, "note", nil, "note file written by mint --out, repeatable")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func balanceCommand() *cobra.Command {
	var account, faucetHex string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show an account's balance of a faucet's token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				id, err := note.ParseAccountID(account)
				if err != nil {
					return err
				}
				faucetID, err := faucetFlag(cfg, faucetHex)
				if err != nil {
					return err
				}
				bal, err := s.flow.Balance(cmd.Context(), id, faucetID)
				if err != nil {
					return err
				}
				fmt.Printf("%d\n", bal)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&faucetHex, "faucet", "", "faucet account id (defaults to the configured faucet)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Poll journaled transactions that have no final status yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(cfg *config.Config, s *session) error {
				results, err := s.flow.Resume(cmd.Context())
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("no pending transactions")
					return nil
				}
				for _, r := range results {
					switch {
					case r.Err != nil:
						fmt.Printf("%s %s %s: %v\n", r.Entry.ID, r.Entry.Kind, r.Entry.Account, r.Err)
					default:
						fmt.Printf("%s %s %s: committed in block %d\n", r.Entry.ID, r.Entry.Kind, r.Entry.Account, r.BlockNum)
					}
				}
				return nil
			})
		},
	}
}

func writeNote(path string, n *note.Note) error {
	buf, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

func readNote(path string) (*note.Note, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var n note.Note
	if err := json.Unmarshal(buf, &n); err != nil {
		return nil, fmt.Errorf("decoding note %s: %w", path, err)
	}
	return &n, nil
}
