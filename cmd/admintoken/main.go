// Command admintoken mints an admin access token for the webhook admin API.
//
//	admintoken -org <organization uuid> [-user <uuid>] [-ttl 1h]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/httpkit"

	"github.com/google/uuid"
)

func main() {
	orgFlag := flag.String("org", "", "organization id the token acts for")
	userFlag := flag.String("user", "", "user id (random when empty)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	orgID, err := uuid.Parse(*orgFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-org must be a valid uuid")
		os.Exit(2)
	}

	userID := uuid.New()
	if *userFlag != "" {
		if userID, err = uuid.Parse(*userFlag); err != nil {
			fmt.Fprintln(os.Stderr, "-user must be a valid uuid")
			os.Exit(2)
		}
	}

	token, err := httpkit.SignAccessToken(cfg.GetJWTAccessSecret(), httpkit.AccessClaims{
		UserID:   userID,
		TenantID: &orgID,
		Roles:    []string{"admin"},
	}, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
