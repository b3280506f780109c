package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitpod-io/gitpod-sub012/internal/admission"
	"github.com/gitpod-io/gitpod-sub012/internal/core"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Workspace cluster admission",
}

var (
	registerURL           string
	registerRegion        string
	registerCA            string
	registerCert          string
	registerKey           string
	registerPreferability string
	registerCordoned      bool
	registerGovern        bool
	registerConstraints   []string

	updateScore      int32
	updateMaxScore   int32
	updateCordoned   bool
	updateConstraint string
	updateRemove     bool

	deregisterForce bool
)

func withAdmission(fn func(ctx context.Context, c *admission.Client) error) error {
	c, err := admission.Dial(admissionAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, c)
}

var clustersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered and static clusters",
	Run: func(cmd *cobra.Command, args []string) {
		err := withAdmission(func(ctx context.Context, c *admission.Client) error {
			resp, err := c.List(ctx)
			if err != nil {
				return err
			}
			printResult(resp.Status)
			return nil
		})
		if err != nil {
			fail(err)
		}
	},
}

var clustersRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a workspace cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pref, err := parsePreferability(registerPreferability)
		if err != nil {
			fail(err)
		}
		req := &admission.RegisterRequest{
			Name:   args[0],
			URL:    registerURL,
			Region: registerRegion,
			Hints: &admission.RegistrationHints{
				Preferability: pref,
				Cordoned:      registerCordoned,
				Govern:        registerGovern,
			},
		}
		tls, err := readTLS(registerCA, registerCert, registerKey)
		if err != nil {
			fail(err)
		}
		req.TLS = tls
		for _, s := range registerConstraints {
			ac, err := parseConstraint(s)
			if err != nil {
				fail(err)
			}
			req.AdmissionConstraints = append(req.AdmissionConstraints, ac)
		}

		err = withAdmission(func(ctx context.Context, c *admission.Client) error {
			_, err := c.Register(ctx, req)
			return err
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("Cluster %s registered.\n", args[0])
	},
}

var clustersUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update score, cordon state or admission constraints of a cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := &admission.UpdateRequest{Name: args[0]}
		flags := cmd.Flags()
		if flags.Changed("score") {
			req.Score = &updateScore
		}
		if flags.Changed("max-score") {
			req.MaxScore = &updateMaxScore
		}
		if flags.Changed("cordoned") {
			req.Cordoned = &updateCordoned
		}
		if updateConstraint != "" {
			ac, err := parseConstraint(updateConstraint)
			if err != nil {
				fail(err)
			}
			req.AdmissionConstraint = &admission.ConstraintDelta{Add: !updateRemove, Constraint: ac}
		}

		err := withAdmission(func(ctx context.Context, c *admission.Client) error {
			_, err := c.Update(ctx, req)
			return err
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("Cluster %s updated.\n", args[0])
	},
}

var clustersDeregisterCmd = &cobra.Command{
	Use:   "deregister <name>",
	Short: "Remove a registered cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := withAdmission(func(ctx context.Context, c *admission.Client) error {
			_, err := c.Deregister(ctx, &admission.DeregisterRequest{Name: args[0], Force: deregisterForce})
			return err
		})
		if err != nil {
			fail(err)
		}
		fmt.Printf("Cluster %s deregistered.\n", args[0])
	},
}

func parsePreferability(s string) (admission.Preferability, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return admission.PreferabilityNone, nil
	case "prefer":
		return admission.PreferabilityPrefer, nil
	case "dont-schedule":
		return admission.PreferabilityDontSchedule, nil
	}
	return 0, fmt.Errorf("unknown preferability %q", s)
}

// parseConstraint reads "type" or "type=value".
func parseConstraint(s string) (core.AdmissionConstraint, error) {
	typ, value, _ := strings.Cut(s, "=")
	ac := core.AdmissionConstraint{Type: core.ConstraintType(typ), Value: value}
	if err := ac.Validate(); err != nil {
		return core.AdmissionConstraint{}, err
	}
	return ac, nil
}

func readTLS(caPath, certPath, keyPath string) (*core.TLSConfig, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}
	var cfg core.TLSConfig
	for _, f := range []struct {
		path string
		dst  *string
	}{{caPath, &cfg.CA}, {certPath, &cfg.Crt}, {keyPath, &cfg.Key}} {
		if f.path == "" {
			continue
		}
		b, err := os.ReadFile(f.path)
		if err != nil {
			return nil, err
		}
		*f.dst = string(b)
	}
	return &cfg, nil
}

func init() {
	rf := clustersRegisterCmd.Flags()
	rf.StringVar(&registerURL, "url", "", "ws-manager URL of the cluster")
	rf.StringVar(&registerRegion, "region", "", "region the cluster serves")
	rf.StringVar(&registerCA, "tls-ca", "", "path to the CA certificate")
	rf.StringVar(&registerCert, "tls-cert", "", "path to the client certificate")
	rf.StringVar(&registerKey, "tls-key", "", "path to the client key")
	rf.StringVar(&registerPreferability, "preferability", "none", "none, prefer or dont-schedule")
	rf.BoolVar(&registerCordoned, "cordoned", false, "register the cluster cordoned")
	rf.BoolVar(&registerGovern, "govern", false, "let this installation govern the cluster")
	rf.StringSliceVar(&registerConstraints, "constraint", nil, "admission constraint (type or type=value), repeatable")
	_ = clustersRegisterCmd.MarkFlagRequired("url")

	uf := clustersUpdateCmd.Flags()
	uf.Int32Var(&updateScore, "score", 0, "new score")
	uf.Int32Var(&updateMaxScore, "max-score", 0, "new max score")
	uf.BoolVar(&updateCordoned, "cordoned", false, "cordon or uncordon the cluster")
	uf.StringVar(&updateConstraint, "constraint", "", "admission constraint to add (type or type=value)")
	uf.BoolVar(&updateRemove, "remove", false, "remove --constraint instead of adding it")

	clustersDeregisterCmd.Flags().BoolVar(&deregisterForce, "force", false, "deregister even with running instances")

	clustersCmd.AddCommand(clustersListCmd, clustersRegisterCmd, clustersUpdateCmd, clustersDeregisterCmd)
	rootCmd.AddCommand(clustersCmd)
}
