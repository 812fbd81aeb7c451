package shopify

// bulkExportMutation asks the provider to export every order and draft
// order, with embedded customer, address and line item sub-objects, into a
// JSONL result file.
const bulkExportMutation = `
  mutation {
    bulkOperationRunQuery(
      query: """
      {
        orders {
          edges {
            node {
              id
              name
              note
              email
              taxesIncluded
              currencyCode
              createdAt
              updatedAt
              taxExempt
              displayFinancialStatus
              displayFulfillmentStatus
              totalPrice
              subtotalPrice
              totalTax
              customer {
                id
                email
                createdAt
                updatedAt
                firstName
                lastName
                state
                amountSpent {
                  amount
                  currencyCode
                }
                verifiedEmail
                taxExempt
                phone
                defaultAddress {
                  id
                  firstName
                  lastName
                  address1
                  address2
                  city
                  province
                  country
                  zip
                  phone
                  provinceCode
                  countryCodeV2
                }
              }
              shippingAddress {
                id
                firstName
                lastName
                address1
                address2
                city
                zip
                province
                country
                phone
                company
                countryCodeV2
                provinceCode
              }
              billingAddress {
                id
                firstName
                lastName
                address1
                address2
                city
                zip
                province
                country
                phone
                company
                countryCodeV2
                provinceCode
              }
              lineItems {
                edges {
                  node {
                    id
                    variant {
                      id
                      title
                    }
                    product {
                      id
                    }
                    name
                    sku
                    vendor
                    quantity
                    requiresShipping
                    taxable
                    isGiftCard
                    fulfillmentService {
                      type
                    }
                    customAttributes {
                      key
                      value
                    }
                  }
                }
              }
            }
          }
        }
        draftOrders {
          edges {
            node {
              id
              name
              note2
              email
              taxesIncluded
              currencyCode
              invoiceSentAt
              createdAt
              updatedAt
              taxExempt
              completedAt
              status
              invoiceUrl
              totalPrice
              subtotalPrice
              totalTax
              customer {
                id
                email
                createdAt
                updatedAt
                firstName
                lastName
                state
                verifiedEmail
                taxExempt
                phone
              }
              lineItems {
                edges {
                  node {
                    id
                    name
                    sku
                    vendor
                    quantity
                    requiresShipping
                    taxable
                    isGiftCard
                  }
                }
              }
            }
          }
        }
      }
      """
    ) {
      bulkOperation {
        id
        status
        errorCode
        objectCount
        url
      }
      userErrors {
        field
        message
      }
    }
  }
`

const currentBulkOperationQuery = `
  query {
    currentBulkOperation {
      id
      status
      errorCode
      objectCount
      url
      createdAt
    }
  }
`

const cancelBulkOperationMutation = `
  mutation {
    bulkOperationCancel {
      bulkOperation {
        id
        status
      }
      userErrors {
        field
        message
      }
    }
  }
`
