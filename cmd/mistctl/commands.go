package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/meur/mistbook/internal/lists"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/sheet"
)

type credentialsInput struct {
	fs    *pflag.FlagSet
	creds models.Credentials
}

func credentialFlags(name string, withName bool) *credentialsInput {
	in := &credentialsInput{fs: subcommand(name)}
	in.fs.StringVar(&in.creds.Email, "email", "", "account email")
	in.fs.StringVar(&in.creds.Password, "password", "", "account password (default $MISTBOOK_PASSWORD)")
	if withName {
		in.fs.StringVar(&in.creds.Name, "name", "", "display name")
	}
	return in
}

func (in *credentialsInput) parse(args []string, fallbackEmail string) error {
	if err := in.fs.Parse(args); err != nil {
		return err
	}
	if in.creds.Email == "" {
		in.creds.Email = fallbackEmail
	}
	if in.creds.Password == "" {
		in.creds.Password = os.Getenv("MISTBOOK_PASSWORD")
	}
	if in.creds.Email == "" || in.creds.Password == "" {
		return errors.New("--email and --password are required")
	}
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	in := credentialFlags("login", false)
	if err := in.parse(args, a.cfg.Email); err != nil {
		return err
	}
	user, err := a.client.Login(ctx, in.creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return a.remember(user.Email)
}

func runSignUp(ctx context.Context, a *app, args []string) error {
	in := credentialFlags("signup", true)
	if err := in.parse(args, ""); err != nil {
		return err
	}
	user, err := a.client.SignUp(ctx, in.creds)
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	return a.remember(user.Email)
}

func (a *app) remember(email string) error {
	a.cfg.Token = a.holder.Token()
	a.cfg.Email = email
	if err := saveConfig(a.cfg); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", email)
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if a.cfg.Token != "" {
		if err := a.signedIn(ctx); err == nil {
			_ = a.client.SignOut(ctx)
		}
	}
	a.cfg.Token = ""
	if err := saveConfig(a.cfg); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	if err := a.signedIn(ctx); err != nil {
		return err
	}
	s := a.holder.Current()
	printTable(a.out, []string{"ID", "EMAIL", "EXPIRES"}, [][]string{
		{s.User.ID, s.User.Email, shortTime(s.ExpiresAt)},
	})
	return nil
}

func runLanding(ctx context.Context, a *app, _ []string) error {
	if err := a.signedIn(ctx); err != nil {
		return err
	}
	id, err := lists.ResolveLanding(ctx, a.client)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(a.out, "no characters yet")
		return nil
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func runCharacters(ctx context.Context, a *app, args []string) error {
	fs := subcommand("characters")
	create := fs.String("new", "", "create a character with this name first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.signedIn(ctx); err != nil {
		return err
	}

	l := lists.NewCharacters(a.deps())
	if err := l.Load(ctx); err != nil {
		return err
	}
	if *create != "" {
		if _, err := l.Create(ctx, *create); err != nil {
			return err
		}
	}

	var rows [][]string
	for _, c := range l.List() {
		brief := models.CharacterBrief(c.BriefFields, models.BriefOptions{})
		rows = append(rows, []string{c.ID, c.Name, orDash(brief), strconv.Itoa(c.Promise), shortTime(c.CreatedAt)})
	}
	printTable(a.out, []string{"ID", "NAME", "BRIEF", "PROMISE", "CREATED"}, rows)
	return nil
}

func runAdventures(ctx context.Context, a *app, _ []string) error {
	if err := a.signedIn(ctx); err != nil {
		return err
	}
	l := lists.NewAdventures(a.deps())
	if err := l.Load(ctx); err != nil {
		return err
	}
	me := a.holder.Current().User.ID

	var rows [][]string
	for _, adv := range l.List() {
		role := "player"
		if adv.OwnerPlayerID == me {
			role = "owner"
		}
		rows = append(rows, []string{adv.ID, adv.Name, adv.SubscribeCode, role, shortTime(adv.CreatedAt)})
	}
	printTable(a.out, []string{"ID", "NAME", "CODE", "ROLE", "CREATED"}, rows)
	return nil
}

// openSheet loads the character sheet the way the app does before acting on it.
func (a *app) openSheet(ctx context.Context, characterID string) (*sheet.Sheet, error) {
	if characterID == "" {
		return nil, errors.New("--character is required")
	}
	s := sheet.New(a.deps(), characterID, sheet.NewMemoryFragment(""))
	if err := s.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func runJoin(ctx context.Context, a *app, args []string) error {
	fs := subcommand("join")
	characterID := fs.String("character", "", "character to enroll")
	if err := fs.Parse(args); err != nil {
		return err
	}
	code, err := oneArg(fs, "join code")
	if err != nil {
		return err
	}
	if err := a.signedIn(ctx); err != nil {
		return err
	}

	s, err := a.openSheet(ctx, *characterID)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Join(ctx, code); err != nil {
		return err
	}
	if ja := s.Joined(); ja != nil {
		printTable(a.out, []string{"ADVENTURE", "NAME", "CODE", "FELLOWSHIP"}, [][]string{
			{ja.ID, ja.Name, ja.SubscribeCode, orDash(ja.FellowshipName)},
		})
	}
	return nil
}

func runLeave(ctx context.Context, a *app, args []string) error {
	fs := subcommand("leave")
	characterID := fs.String("character", "", "character to release")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.signedIn(ctx); err != nil {
		return err
	}

	s, err := a.openSheet(ctx, *characterID)
	if err != nil {
		return err
	}
	defer s.Close()
	if !s.Character.Get().Enrolled() {
		fmt.Fprintln(a.out, "not in an adventure")
		return nil
	}
	return s.Leave(ctx)
}

func (a *app) openAdventure(ctx context.Context, args []string) (*lists.Adventure, error) {
	fs := subcommand("adventure")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	id, err := oneArg(fs, "adventure id")
	if err != nil {
		return nil, err
	}
	if err := a.signedIn(ctx); err != nil {
		return nil, err
	}
	adv := lists.NewAdventure(a.deps(), id)
	if err := adv.Load(ctx); err != nil {
		return nil, err
	}
	return adv, nil
}

func runRoster(ctx context.Context, a *app, args []string) error {
	adv, err := a.openAdventure(ctx, args)
	if err != nil {
		return err
	}
	roster, err := adv.Roster()
	if err != nil {
		return err
	}

	var rows [][]string
	for _, e := range roster {
		rows = append(rows, []string{
			e.CharacterName,
			e.OwnerDisplayName,
			orDash(models.CharacterBrief(e.BriefFields, models.BriefOptions{})),
			shortTime(e.CharacterCreatedAt),
		})
	}
	fmt.Fprintf(a.out, "%s (%s)\n", adv.Get().Name, adv.Get().SubscribeCode)
	printTable(a.out, []string{"CHARACTER", "PLAYER", "BRIEF", "CREATED"}, rows)
	return nil
}

func runQuit(ctx context.Context, a *app, args []string) error {
	adv, err := a.openAdventure(ctx, args)
	if err != nil {
		return err
	}
	released, err := adv.Quit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d character(s) released\n", released)
	return nil
}
