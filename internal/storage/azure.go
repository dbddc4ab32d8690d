package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"gocloud.dev/blob"
	"gocloud.dev/blob/azureblob"
)

const azureBlobHostSuffix = ".blob.core.windows.net"

// Storage option keys understood when opening Azure locations.
const (
	OptionAccountName = "account_name"
	OptionCredential  = "credential"
)

// AzureLocation identifies a path inside an Azure Blob Storage container.
type AzureLocation struct {
	Account   string
	Container string
	Path      string
	SAS       string
}

func isAzureHref(href string) bool {
	for _, scheme := range []string{"abfs://", "abfss://", "az://"} {
		if strings.HasPrefix(href, scheme) {
			return true
		}
	}
	if !isHttpUrl(href) {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), azureBlobHostSuffix)
}

// ParseAzureHref resolves abfs://, az://, and https blob endpoint hrefs.  The
// account and SAS token may come from the storage options when the href does
// not carry them.
func ParseAzureHref(href string, options map[string]any) (*AzureLocation, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}

	loc := &AzureLocation{}
	switch u.Scheme {
	case "abfs", "abfss", "az":
		// abfs://container/path or abfs://container@account.dfs.core.windows.net/path
		loc.Container = u.Host
		if u.User != nil {
			loc.Container = u.User.Username()
			loc.Account, _, _ = strings.Cut(u.Host, ".")
		}
		loc.Path = strings.TrimPrefix(u.Path, "/")
	case "http", "https":
		loc.Account = strings.TrimSuffix(u.Hostname(), azureBlobHostSuffix)
		container, path, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		loc.Container = container
		loc.Path = path
		loc.SAS = u.RawQuery
	default:
		return nil, fmt.Errorf("unsupported azure scheme %q", u.Scheme)
	}

	if loc.Account == "" {
		loc.Account = stringOption(options, OptionAccountName)
	}
	if loc.SAS == "" {
		loc.SAS = strings.TrimPrefix(stringOption(options, OptionCredential), "?")
	}

	if loc.Account == "" {
		return nil, fmt.Errorf("no storage account for %q, expected %q in the storage options", href, OptionAccountName)
	}
	if loc.Container == "" {
		return nil, fmt.Errorf("no container in %q", href)
	}
	return loc, nil
}

func (l *AzureLocation) ContainerURL() string {
	u := fmt.Sprintf("https://%s%s/%s", l.Account, azureBlobHostSuffix, l.Container)
	if l.SAS != "" {
		u += "?" + l.SAS
	}
	return u
}

func (l *AzureLocation) String() string {
	return fmt.Sprintf("az://%s/%s", l.Container, l.Path)
}

func openAzureBucket(ctx context.Context, loc *AzureLocation) (*blob.Bucket, error) {
	client, err := container.NewClientWithNoCredential(loc.ContainerURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for container %s: %w", loc.Container, err)
	}
	bucket, err := azureblob.OpenBucket(ctx, client, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open container %s: %w", loc.Container, err)
	}
	return bucket, nil
}

func stringOption(options map[string]any, key string) string {
	value, ok := options[key]
	if !ok || value == nil {
		return ""
	}
	if str, ok := value.(string); ok {
		return str
	}
	return fmt.Sprint(value)
}
