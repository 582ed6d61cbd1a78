// Package boot has helpers shared by service main packages: flag parsing
// with environment variable override, storage selection from a URL, and
// termination handling.
package boot

import (
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/voxrelay/backend/libs/awsutil"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/storage"
)

// ParseFlags parses the command line flags and then fills in any flag that
// was not explicitly set from the environment. The environment variable for
// a flag is the prefix followed by the upper-cased flag name with dots and
// dashes replaced by underscores (e.g. prefix SCRIBE_ and flag media.bucket
// map to SCRIBE_MEDIA_BUCKET).
func ParseFlags(envPrefix string) {
	flag.Parse()
	set := make(map[string]struct{})
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = struct{}{}
	})
	flag.VisitAll(func(f *flag.Flag) {
		if _, ok := set[f.Name]; ok {
			return
		}
		name := strings.ToUpper(f.Name)
		name = strings.Replace(name, ".", "_", -1)
		name = strings.Replace(name, "-", "_", -1)
		if v := os.Getenv(envPrefix + name); v != "" {
			if err := flag.Set(f.Name, v); err != nil {
				golog.Fatalf("Invalid value for flag %s from environment: %s", f.Name, err)
			}
		}
	})
}

// AWS lazily creates an AWS session shared by every store and client that
// needs one.
type AWS struct {
	Region    string
	AccessKey string
	SecretKey string
	Token     string

	once sync.Once
	sess *session.Session
	err  error
}

// Session returns the shared AWS session.
func (a *AWS) Session() (*session.Session, error) {
	a.once.Do(func() {
		cnf, err := awsutil.Config(a.Region, a.AccessKey, a.SecretKey, a.Token)
		if err != nil {
			a.err = err
			return
		}
		a.sess = session.New(cnf)
	})
	return a.sess, a.err
}

// StoreFromURL returns a storage store based on the provided URL. The scheme
// selects the storage type (s3, file, or memory); for S3 the host is the
// bucket and the path the key prefix.
func StoreFromURL(u string, aws *AWS) (storage.DeterministicStore, error) {
	ur, err := url.Parse(u)
	if err != nil {
		return nil, errors.Errorf("boot: failed to parse storage URL %q: %s", u, err)
	}
	switch ur.Scheme {
	case "file":
		return storage.NewLocalStore(ur.Path)
	case "s3":
		if ur.Host == "" {
			return nil, errors.Errorf("boot: S3 storage URL %q missing bucket (aka host)", u)
		}
		awsSession, err := aws.Session()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return storage.NewS3(awsSession, ur.Host, strings.TrimPrefix(ur.Path, "/")), nil
	case "memory":
		return storage.NewTestStore(nil), nil
	}
	return nil, errors.Errorf("boot: no storage available for scheme %q", ur.Scheme)
}

// WaitForTermination waits for an INT or TERM signal.
func WaitForTermination() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	golog.Infof("Quitting due to signal %s", sig.String())
}
