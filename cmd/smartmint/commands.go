package main

import (
	"context"
	"errors"
	"fmt"

	"smartmint/internal/aa"
	"smartmint/internal/app"
	"smartmint/internal/errkind"
	"smartmint/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	balanceOwner    string
	balanceContract string
	inspectContract string
)

var eoaCmd = &cobra.Command{
	Use:   "eoa",
	Short: "Print the wallet's externally owned account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s := a.NewSession()
			eoa, err := s.ConnectEOA(ctx)
			if err != nil {
				return userError(err)
			}
			if eoa == nil {
				return errors.New("wallet returned no accounts")
			}
			return printJSON(map[string]string{
				"eoa": eoa.Hex(),
				"url": a.Links.Address(*eoa),
			})
		})
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Derive the smart account owned by the wallet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, acc, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			return printJSON(struct {
				session.Snapshot
				AccountURL string `json:"accountUrl"`
				Sponsored  bool   `json:"sponsored"`
			}{s.Snapshot(), a.Links.Address(acc.Address()), a.AA.Sponsored()})
		})
	},
}

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint one NFT to the smart account with a sponsored user operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, _, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			attempt, err := a.NewWorkflow(s).Mint(ctx)
			if attempt != nil {
				if perr := printJSON(attempt); perr != nil {
					return perr
				}
			}
			return userError(err)
		})
	},
}

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <address>",
	Short: "Grant MINTER_ROLE on the collection to address",
	Long: `Sends grantRoles(address, MINTER_ROLE) from the smart account. Only
succeeds when the smart account owns the collection.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		target := common.HexToAddress(args[0])
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, _, err := readySession(ctx, a)
			if err != nil {
				return err
			}
			res, err := a.NewWorkflow(s).GrantMinterRole(ctx, target)
			if err != nil {
				return userError(err)
			}
			return printJSON(res)
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the NFT balance and metadata base URI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			contract, err := contractOrResolve(ctx, a, balanceContract)
			if err != nil {
				return err
			}

			var owner common.Address
			if balanceOwner != "" {
				if !common.IsHexAddress(balanceOwner) {
					return fmt.Errorf("invalid owner %q", balanceOwner)
				}
				owner = common.HexToAddress(balanceOwner)
			} else {
				_, acc, err := readySession(ctx, a)
				if err != nil {
					return err
				}
				owner = acc.Address()
			}

			image := a.Config.Chain.DefaultImage
			var baseURI *string
			if uri, ok := a.Reader.ReadBaseURI(ctx, contract); ok {
				baseURI = &uri
				image = uri
			}
			return printJSON(map[string]interface{}{
				"contract":    contract,
				"owner":       owner,
				"balance":     a.Reader.ReadBalance(ctx, contract, owner),
				"baseURI":     baseURI,
				"image":       image,
				"contractUrl": a.Links.Address(contract),
				"ownerUrl":    a.Links.Address(owner),
			})
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Diagnose the NFT contract: code, name, symbol, total supply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			contract := a.Config.Mint.Candidates[0]
			if inspectContract != "" {
				if !common.IsHexAddress(inspectContract) {
					return fmt.Errorf("invalid contract %q", inspectContract)
				}
				contract = common.HexToAddress(inspectContract)
			}
			return printJSON(a.NFT.Inspect(ctx, contract))
		})
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceOwner, "owner", "", "holder address (default: the wallet's smart account)")
	balanceCmd.Flags().StringVar(&balanceContract, "contract", "", "collection address (default: first working candidate)")
	inspectCmd.Flags().StringVar(&inspectContract, "contract", "", "contract address (default: first configured candidate)")
}

// readySession connects the wallet and derives its smart account.
func readySession(ctx context.Context, a *app.App) (*session.Session, aa.Account, error) {
	if err := a.Config.RequireBundler(); err != nil {
		return nil, nil, err
	}
	s := a.NewSession()
	eoa, err := s.ConnectEOA(ctx)
	if err != nil {
		return nil, nil, userError(err)
	}
	if eoa == nil {
		return nil, nil, errors.New("wallet returned no accounts")
	}
	acc, err := s.CreateSmartAccount(ctx, *eoa)
	if err != nil {
		return nil, nil, userError(err)
	}
	return s, acc, nil
}

func contractOrResolve(ctx context.Context, a *app.App, raw string) (common.Address, error) {
	if raw != "" {
		if !common.IsHexAddress(raw) {
			return common.Address{}, fmt.Errorf("invalid contract %q", raw)
		}
		return common.HexToAddress(raw), nil
	}
	addr, err := a.Resolver.ResolveContract(ctx, a.Config.Mint.Candidates)
	return addr, userError(err)
}

// userError prefixes err with its kind's user facing message.
func userError(err error) error {
	if err == nil {
		return nil
	}
	kind := errkind.KindOf(err)
	return fmt.Errorf("%s (%s): %w", kind.Message(), kind, err)
}
