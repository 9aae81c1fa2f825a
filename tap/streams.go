package tap

import (
	"fmt"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var limitsType = ArrayType(ObjectType(
	Prop("action", StringType),
	Prop("limit", IntegerType),
	Prop("period", StringType),
	Prop("entities", ArrayType(StringType)),
))

var UsersStream = &Stream{
	Name:        "users",
	Path:        "/v1/users",
	PrimaryKeys: []string{"id"},
	RecordsPath: RecordsPathList,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("modified", DateTimeType),
		Prop("email", StringType),
		Prop("accountId", IntegerType),
		Prop("state", StringType),
		Prop("name", StringType),
		Prop("latestFeedTimestamp", DateTimeType),
		Prop("roles", ArrayType(IntegerType)),
		Prop("authMethod", StringType),
	),
}

var AccountsStream = &Stream{
	Name:        "accounts",
	Path:        "/v1/accounts/{account_id}",
	PrimaryKeys: []string{"id"},
	RecordsPath: RecordsPathSingle,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("modified", DateTimeType),
		Prop("companyName", StringType),
		Prop("domainName", StringType),
		Prop("state", StringType),
		Prop("billingEmail", StringType),
		Prop("planName", StringType),
		Prop("planExpires", DateTimeType),
		Prop("applicationLimit", IntegerType),
		Prop("userLimit", IntegerType),
		Prop("campaignLimit", IntegerType),
		Prop("apiLimit", IntegerType),
		Prop("applicationCount", IntegerType),
		Prop("userCount", IntegerType),
		Prop("campaignsActiveCount", IntegerType),
		Prop("campaignsInactiveCount", IntegerType),
	),
}

// AccountAnalyticsStream records carry no identifier of their own; the
// account id is stamped on from the context.
var AccountAnalyticsStream = &Stream{
	Name:        "account_analytics",
	Path:        "/v1/accounts/{account_id}/analytics",
	PrimaryKeys: []string{"account_id"},
	RecordsPath: RecordsPathSingle,
	Schema: NewSchema(
		Prop("account_id", IntegerType),
		Prop("applications", IntegerType),
		Prop("liveApplications", IntegerType),
		Prop("sandboxApplications", IntegerType),
		Prop("campaigns", IntegerType),
		Prop("activeCampaigns", IntegerType),
		Prop("liveActiveCampaigns", IntegerType),
		Prop("coupons", IntegerType),
		Prop("activeCoupons", IntegerType),
		Prop("expiredCoupons", IntegerType),
		Prop("referralCodes", IntegerType),
		Prop("activeReferralCodes", IntegerType),
		Prop("expiredReferralCodes", IntegerType),
		Prop("activeRules", IntegerType),
		Prop("users", IntegerType),
		Prop("roles", IntegerType),
		Prop("customAttributes", IntegerType),
		Prop("webhooks", IntegerType),
		Prop("loyaltyPrograms", IntegerType),
		Prop("liveLoyaltyPrograms", IntegerType),
	),
	PostProcess: func(record string, c StreamContext) (string, bool, error) {
		accountID, ok := c.Get("account_id")
		if !ok {
			return "", false, &ConfigError{Stream: "account_analytics", Reason: "account_id is not bound"}
		}
		record, err := sjson.Set(record, "account_id", accountID)
		return record, err == nil, err
	},
}

var ApplicationsStream = &Stream{
	Name:        "applications",
	Path:        "/v1/applications",
	PrimaryKeys: []string{"id"},
	RecordsPath: RecordsPathList,
	Conformance: ConformRootOnly,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("modified", DateTimeType),
		Prop("accountId", IntegerType),
		Prop("name", StringType),
		Prop("description", StringType),
		Prop("timezone", StringType),
		Prop("currency", StringType),
		Prop("caseSensitivity", StringType),
		Prop("attributes", ObjectType()),
		Prop("limits", limitsType),
		Prop("attributesSettings", ObjectType(
			Prop("mandatory", ObjectType(
				Prop("campaigns", ArrayType(StringType)),
				Prop("coupons", ArrayType(StringType)),
			)),
		)),
		Prop("enableCascadingDiscounts", BooleanType),
		Prop("enablePartialDiscounts", BooleanType),
		Prop("loyaltyPrograms", ArrayType(ObjectType(
			Prop("id", IntegerType),
			Prop("created", DateTimeType),
			Prop("title", StringType),
			Prop("description", StringType),
			Prop("subscribedApplications", ArrayType(IntegerType)),
			Prop("defaultValidity", StringType),
			Prop("defaultPending", StringType),
			Prop("allowSubledger", BooleanType),
			Prop("sandbox", BooleanType),
			Prop("accountID", IntegerType),
			Prop("name", StringType),
			Prop("tiers", ArrayType(StringType)),
			Prop("timezone", StringType),
			Prop("cardBased", BooleanType),
		))),
	),
	ChildContext: bindFromRecord(map[string]string{"application_id": "id"}),
}

var CampaignsStream = &Stream{
	Name:        "campaigns",
	Path:        "/v1/applications/{application_id}/campaigns",
	PrimaryKeys: []string{"id"},
	Parent:      "applications",
	RecordsPath: RecordsPathList,
	Conformance: ConformRootOnly,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("applicationId", IntegerType),
		Prop("userId", IntegerType),
		Prop("name", StringType),
		Prop("description", StringType),
		Prop("startTime", DateTimeType),
		Prop("endTime", DateTimeType),
		Prop("attributes", ObjectType()),
		Prop("state", StringType),
		Prop("activeRulesetId", IntegerType),
		Prop("tags", ArrayType(StringType)),
		Prop("features", ArrayType(StringType)),
		Prop("couponSettings", ObjectType(
			Prop("validCharacters", ArrayType(StringType)),
			Prop("couponPattern", StringType),
		)),
		Prop("limits", limitsType),
		Prop("campaignGroups", ArrayType(IntegerType)),
		Prop("couponRedemptionCount", IntegerType),
		Prop("discountCount", IntegerType),
		Prop("discountEffectCount", IntegerType),
		Prop("couponCreationCount", IntegerType),
		Prop("customEffectCount", IntegerType),
		Prop("addFreeItemEffectCount", IntegerType),
		Prop("callApiEffectCount", IntegerType),
		Prop("reservecouponEffectCount", IntegerType),
		Prop("updated", DateTimeType),
		Prop("updatedBy", StringType),
	),
	StampContext: []string{"application_id"},
	ChildContext: func(record gjson.Result, parent StreamContext) (StreamContext, error) {
		if _, ok := parent.Get("application_id"); !ok {
			return StreamContext{}, &ConfigError{Stream: "campaigns", Reason: "application_id is not bound"}
		}
		return bindFromRecord(map[string]string{"campaign_id": "id"})(record, parent)
	},
}

var CouponsStream = &Stream{
	Name:        "coupons",
	Path:        "/v1/applications/{application_id}/campaigns/{campaign_id}/coupons/no_total",
	PrimaryKeys: []string{"id"},
	Parent:      "campaigns",
	RecordsPath: RecordsPathList,
	Conformance: ConformRootOnly,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("campaignId", IntegerType),
		Prop("value", StringType),
		Prop("usageLimit", IntegerType),
		Prop("discountLimit", IntegerType),
		Prop("reservationLimit", IntegerType),
		Prop("startDate", DateTimeType),
		Prop("expiryDate", DateTimeType),
		Prop("limits", limitsType),
		Prop("usageCounter", IntegerType),
		Prop("discountCounter", IntegerType),
		Prop("discountRemainder", IntegerType),
		Prop("reservationCounter", IntegerType),
		Prop("attributes", ObjectType()),
		Prop("referralId", IntegerType),
		Prop("recipientIntegrationId", StringType),
		Prop("importId", IntegerType),
		Prop("reservation", BooleanType),
		Prop("batchId", StringType),
		Prop("isReservationMandatory", BooleanType),
	),
	StampContext: []string{"campaign_id"},
}

var ReferralsStream = &Stream{
	Name:           "referrals",
	Path:           "/v1/applications/{application_id}/campaigns/{campaign_id}/referrals/no_total",
	PrimaryKeys:    []string{"id"},
	ReplicationKey: "created",
	Parent:         "campaigns",
	RecordsPath:    RecordsPathList,
	Conformance:    ConformRootOnly,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("startDate", DateTimeType),
		Prop("expiryDate", DateTimeType),
		Prop("usageLimit", IntegerType),
		Prop("campaignId", IntegerType),
		Prop("advocateProfileIntegrationId", StringType),
		Prop("friendProfileIntegrationId", StringType),
		Prop("attributes", ObjectType()),
		Prop("importId", IntegerType),
		Prop("code", StringType),
		Prop("usageCounter", IntegerType),
		Prop("batchId", StringType),
	),
	StampContext: []string{"campaign_id"},
	ChildContext: bindFromRecord(map[string]string{"integration_id": "advocateProfileIntegrationId"}),
}

var FriendsStream = &Stream{
	Name:           "friends",
	Path:           "/v1/applications/{application_id}/profile/{integration_id}/friends",
	PrimaryKeys:    []string{"sessionId"},
	ReplicationKey: "created",
	Parent:         "referrals",
	RecordsPath:    RecordsPathList,
	Conformance:    ConformRootOnly,
	Schema: NewSchema(
		Prop("applicationId", IntegerType),
		Prop("sessionId", StringType),
		Prop("advocateIntegrationId", StringType),
		Prop("friendIntegrationId", StringType),
		Prop("code", StringType),
		Prop("created", DateTimeType),
	),
	StampContext: []string{"application_id"},
}

// ChangesStream is filtered server side by createdAfter and pages with the
// server's default page size.
var ChangesStream = &Stream{
	Name:           "changes",
	Path:           "/v1/changes",
	PrimaryKeys:    []string{"id"},
	ReplicationKey: "created",
	RecordsPath:    RecordsPathList,
	Conformance:    ConformRootOnly,
	OmitPageSize:   true,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("userId", IntegerType),
		Prop("managementKeyId", IntegerType),
		Prop("applicationId", IntegerType),
		Prop("entity", StringType),
		Prop("old", ObjectType()),
		Prop("new", ObjectType()),
	),
}

var AdditionalCostsStream = &Stream{
	Name:           "additional_costs",
	Path:           "/v1/additional_costs",
	PrimaryKeys:    []string{"id"},
	ReplicationKey: "created",
	RecordsPath:    RecordsPathList,
	Conformance:    ConformRootOnly,
	Schema: NewSchema(
		Prop("id", IntegerType),
		Prop("created", DateTimeType),
		Prop("accountId", IntegerType),
		Prop("name", StringType),
		Prop("title", StringType),
		Prop("description", StringType),
		Prop("subscribedApplicationsIds", ArrayType(IntegerType)),
		Prop("type", StringType),
	),
}

// Streams returns every stream the tap knows, parents before children.
func Streams() []*Stream {
	return []*Stream{
		UsersStream,
		AccountsStream,
		AccountAnalyticsStream,
		ApplicationsStream,
		CampaignsStream,
		CouponsStream,
		ReferralsStream,
		FriendsStream,
		ChangesStream,
		AdditionalCostsStream,
	}
}

// StampedField is the record field a context key is stamped onto,
// e.g. application_id -> applicationId.
func StampedField(key string) string {
	return strcase.ToLowerCamel(key)
}

// stampContext fills the stamped field of each context key when the API
// left it out or null.
func stampContext(record string, c StreamContext, keys []string) (string, error) {
	for _, key := range keys {
		field := StampedField(key)
		if existing := gjson.Get(record, field); existing.Exists() && existing.Type != gjson.Null {
			continue
		}
		v, ok := c.Get(key)
		if !ok {
			return "", fmt.Errorf("cannot stamp %s: %s is not bound", field, key)
		}
		var err error
		if record, err = sjson.Set(record, field, v); err != nil {
			return "", err
		}
	}
	return record, nil
}
