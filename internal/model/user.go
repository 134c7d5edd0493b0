package model

import "time"

// User statuses stored in users.status.
const (
    UserActive   = "active"
    UserInactive = "inactive"
)

// User represents a staff account as stored in the `users` table.  PII
// columns hold ciphertext produced by security.Cipher; the matching *_hash
// columns hold the keyed lookup hash of the normalised plaintext and are
// always rewritten together with their ciphertext.
//
// Fields:
//  ID                – primary key identifier of the user.
//  TenantID          – owning tenant; every query is scoped by it.
//  RoleID            – foreign key into roles (tenant scoped).
//  Username          – unique per tenant, stored in clear.
//  EncryptedEmail    – ciphertext of the email address.
//  EmailHash         – keyed hash of the lower-cased email.
//  PasswordHash      – bcrypt hash.
//  EncryptedFullName – ciphertext of the display name.
//  EncryptedPhone    – ciphertext of the phone number (may be empty).
//  Status            – UserActive or UserInactive.
//  DeletedAt         – soft delete marker; deleted users can never log in.
type User struct {
    ID                uint64     // users.id
    TenantID          uint64     // users.tenant_id
    RoleID            uint64     // users.role_id
    Username          string     // users.username
    EncryptedEmail    string     // users.encrypted_email
    EmailHash         string     // users.email_hash
    PasswordHash      string     // users.password_hash
    EncryptedFullName string     // users.encrypted_full_name
    EncryptedPhone    string     // users.encrypted_phone
    Status            string     // users.status
    DeletedAt         *time.Time // users.deleted_at (nullable)
    CreatedAt         time.Time  // users.created_at
    UpdatedAt         time.Time  // users.updated_at
}

// Active reports whether the account may authenticate.
func (u User) Active() bool {
    return u.Status == UserActive && u.DeletedAt == nil
}

// Role is a tenant scoped role with its permission names.
type Role struct {
    ID          uint64   // roles.id
    TenantID    uint64   // roles.tenant_id
    Name        string   // roles.name
    Permissions []string // role_permissions.permission
}

// Tenant is the isolation boundary for every other record.
type Tenant struct {
    ID        uint64    // tenants.id
    Name      string    // tenants.name
    IsActive  bool      // tenants.is_active
    CreatedAt time.Time // tenants.created_at
}
